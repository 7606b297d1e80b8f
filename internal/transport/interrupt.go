package transport

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/domain"
)

// Canceller raises a session's advisory cancellation flag, creating the
// record if it does not exist. *session.Store satisfies this interface.
type Canceller interface {
	RequestCancel(sessionID string)
}

// InterruptHandler consumes the interrupt queue, sets the target session's
// cancellation flag, and acknowledges to the client. The flag is advisory:
// the session worker observes and clears it at event boundaries.
type InterruptHandler struct {
	queues    *QueueSet
	canceller Canceller
}

func NewInterruptHandler(queues *QueueSet, canceller Canceller) *InterruptHandler {
	return &InterruptHandler{queues: queues, canceller: canceller}
}

// Run consumes until the interrupt queue closes or ctx is cancelled.
func (h *InterruptHandler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-h.queues.Interrupts:
			if !ok {
				return nil
			}
			// The canceller creates absent records, so the id must pass
			// the same check the worker applies to tasks.
			if !domain.ValidSessionID(msg.SessionID) {
				log.Warn().Str("session_id", msg.SessionID).Msg("transport: interrupt without valid session_id dropped")
				continue
			}

			h.canceller.RequestCancel(msg.SessionID)
			log.Info().Str("session_id", msg.SessionID).Msg("transport: interrupt flagged")

			if err := h.queues.EnqueueOutbound(ctx, InterruptAckFrame(msg.SessionID)); err != nil {
				return nil
			}
		}
	}
}
