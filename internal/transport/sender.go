package transport

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sender is the single writer to the client connection. It drains the
// outbound queue in order; messages are delivered exactly as enqueued, with
// no reordering or batching. A failed write is logged and swallowed so a dead
// socket never blocks or crashes the agent-side producers; the loop keeps
// draining and subsequent writes fail fast.
type Sender struct {
	conn   Conn
	queues *QueueSet
}

func NewSender(conn Conn, queues *QueueSet) *Sender {
	return &Sender{conn: conn, queues: queues}
}

// Run drains the outbound queue until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.queues.Outbound:
			if !ok {
				return nil
			}
			if err := s.conn.Write(ctx, msg); err != nil {
				log.Debug().Err(err).Msg("transport: outbound write failed")
			}
		}
	}
}
