// Package ws exposes the chat transport endpoint: one duplex websocket per
// client, bridged onto the transport queues and the session worker.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/approval"
	"github.com/triagehq/triage/internal/orchestrator"
	"github.com/triagehq/triage/internal/session"
	"github.com/triagehq/triage/internal/transport"
)

// Hub accepts chat connections and runs the per-connection task set: router,
// sender, heartbeat, interrupt handler, decision forwarder, and session
// worker. The session store and approval correlator are process-wide and
// outlive any single connection.
type Hub struct {
	store             *session.Store
	registry          *agent.Registry
	approvals         *approval.Correlator
	engineType        string
	heartbeatInterval time.Duration
}

func NewHub(store *session.Store, registry *agent.Registry, approvals *approval.Correlator, engineType string, heartbeatInterval time.Duration) *Hub {
	return &Hub{
		store:             store,
		registry:          registry,
		approvals:         approvals,
		engineType:        engineType,
		heartbeatInterval: heartbeatInterval,
	}
}

// wsConn adapts a websocket connection to transport.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ServeChat handles one chat websocket for its whole lifetime.
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: accept failed")
		return
	}
	defer sock.CloseNow()

	log.Info().Str("remote", r.RemoteAddr).Msg("ws: connection open")

	conn := &wsConn{conn: sock}
	queues := transport.NewQueueSet()
	worker := orchestrator.NewWorker(h.store, h.registry, h.approvals, h.engineType)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The router owns teardown: when the read side dies it closes
		// the inbound queues, the consumers below run dry, and the
		// cancel stops the sender and heartbeat.
		defer cancel()
		return transport.NewRouter(conn, queues).Run(gctx)
	})
	g.Go(func() error {
		return transport.NewSender(conn, queues).Run(gctx)
	})
	g.Go(func() error {
		return transport.NewHeartbeat(queues, h.heartbeatInterval).Run(gctx)
	})
	g.Go(func() error {
		return transport.NewInterruptHandler(queues, h.store).Run(gctx)
	})
	g.Go(func() error {
		return transport.NewDecisionForwarder(queues, h.approvals).Run(gctx)
	})
	g.Go(func() error {
		return worker.Run(gctx, queues)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ws: connection task failed")
	}

	_ = sock.Close(websocket.StatusNormalClosure, "connection closed")
	log.Info().Str("remote", r.RemoteAddr).Msg("ws: connection closed")
}
