package transport

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Conn is the minimal duplex message connection the transport loops need.
// The websocket handler adapts the real connection to this interface; tests
// substitute in-memory fakes.
type Conn interface {
	// Read returns the next client frame. Any error means the connection
	// is gone.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame to the client.
	Write(ctx context.Context, data []byte) error
}

// Router is the single reader of the client connection. It classifies every
// inbound frame into exactly one of the three inbound queues, discards
// heartbeat replies, and drops undecodable frames without tearing the
// connection down. On disconnect it closes all inbound queues exactly once
// and terminates.
type Router struct {
	conn   Conn
	queues *QueueSet
}

func NewRouter(conn Conn, queues *QueueSet) *Router {
	return &Router{conn: conn, queues: queues}
}

// Run reads until the connection drops or ctx is cancelled. The inbound
// queues are closed on every exit path so no consumer blocks forever.
func (r *Router) Run(ctx context.Context) error {
	defer r.queues.CloseInbound()

	for {
		data, err := r.conn.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("transport: connection closed")
			return nil
		}

		msg, err := ParseInbound(data)
		if err != nil {
			// One bad frame is not worth the connection.
			log.Warn().Err(err).Msg("transport: dropping malformed frame")
			continue
		}

		var dest chan *Inbound
		switch msg.Kind {
		case KindPong:
			continue
		case KindInterrupt:
			dest = r.queues.Interrupts
		case KindPermissionResponse:
			dest = r.queues.Permissions
		case KindTask:
			dest = r.queues.Agent
		}

		select {
		case dest <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}
