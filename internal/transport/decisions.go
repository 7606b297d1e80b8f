package transport

import (
	"context"

	"github.com/rs/zerolog/log"
)

// DecisionSink resolves a pending tool approval. *approval.Correlator
// satisfies this interface.
type DecisionSink interface {
	SubmitDecision(id string, approved bool, reason string) bool
}

// DecisionForwarder consumes the permission-response queue and feeds each
// decision to the approval correlator. Resolution is keyed purely by request
// id, so a decision arriving on this connection may settle an approval
// requested on another.
type DecisionForwarder struct {
	queues *QueueSet
	sink   DecisionSink
}

func NewDecisionForwarder(queues *QueueSet, sink DecisionSink) *DecisionForwarder {
	return &DecisionForwarder{queues: queues, sink: sink}
}

// Run consumes until the permission-response queue closes or ctx is
// cancelled.
func (f *DecisionForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-f.queues.Permissions:
			if !ok {
				return nil
			}
			if msg.RequestID == "" {
				log.Warn().Msg("transport: permission response without request_id dropped")
				continue
			}

			approved := msg.Approved()
			reason := ""
			if !approved {
				reason = "denied by user"
			}

			if !f.sink.SubmitDecision(msg.RequestID, approved, reason) {
				// Already resolved, expired, or unknown; a late or
				// duplicate response is not an error.
				log.Debug().Str("request_id", msg.RequestID).Msg("transport: decision had no effect")
			}
		}
	}
}
