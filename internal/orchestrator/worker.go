// Package orchestrator drives the session worker loop: it pulls units of work
// off a connection's inbound-agent queue, runs the external engine for the
// owning session, streams engine events to the outbound queue, honors the
// cooperative cancellation flag, and persists session state when a turn ends.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/approval"
	"github.com/triagehq/triage/internal/domain"
	"github.com/triagehq/triage/internal/session"
	"github.com/triagehq/triage/internal/transport"
)

// errInvalidSessionID rejects client-supplied ids that could not be used as
// store keys. The frame carries it back to the client verbatim.
var errInvalidSessionID = errors.New("invalid session id")

// retryBudget is how many reset-and-retry cycles a turn gets for engine
// busy / invalid-state errors before the error is surfaced to the client.
const retryBudget = 2

// Worker processes tasks for one connection. Turns for a single session run
// strictly sequentially (the session's turn lock is held from task pickup
// through persistence); turns across sessions proceed fully concurrently.
type Worker struct {
	store      *session.Store
	registry   *agent.Registry
	approvals  *approval.Correlator
	engineType string
}

func NewWorker(store *session.Store, registry *agent.Registry, approvals *approval.Correlator, engineType string) *Worker {
	return &Worker{
		store:      store,
		registry:   registry,
		approvals:  approvals,
		engineType: engineType,
	}
}

// Run consumes the inbound-agent queue until it closes or ctx is cancelled.
func (w *Worker) Run(ctx context.Context, queues *transport.QueueSet) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-queues.Agent:
			if !ok {
				return nil
			}
			w.processTask(ctx, queues, msg)
		}
	}
}

func (w *Worker) processTask(ctx context.Context, queues *transport.QueueSet, msg *transport.Inbound) {
	sessionID := msg.SessionID
	switch {
	case sessionID == "":
		sessionID = uuid.NewString()
	case !domain.ValidSessionID(sessionID):
		// The id becomes a file name in the store's data dir; nothing
		// outside the allowed charset may reach it.
		log.Warn().Str("session_id", sessionID).Msg("worker: rejected invalid session id")
		if err := queues.EnqueueOutbound(ctx, transport.ErrorFrame(sessionID, errInvalidSessionID)); err != nil {
			log.Debug().Err(err).Msg("worker: rejection frame not delivered")
		}
		return
	}

	sess := w.store.GetOrCreate(sessionID)

	// Serialize turns per session; released in EndTurn after persistence.
	sess.BeginTurn(msg.Content)
	sess.SetOutbound(queues.EnqueueOutbound)

	w.runTurn(ctx, queues, sess, msg.Content)

	// The connection context dies with the socket; end-of-turn persistence
	// must survive a client that disconnected mid-turn.
	saveCtx := context.WithoutCancel(ctx)
	if err := w.store.Save(saveCtx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("worker: state save failed")
	}
	if err := w.store.SaveHistory(sess); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("worker: history save failed")
	}

	sess.EndTurn()
}

func (w *Worker) runTurn(ctx context.Context, queues *transport.QueueSet, sess *session.Session, task string) {
	eng, err := w.ensureEngine(ctx, sess)
	if err != nil {
		w.reportError(ctx, queues, sess, err)
		return
	}

	for attempt := 0; ; attempt++ {
		events, err := eng.Run(ctx, task)
		if err == nil {
			forwarded, streamErr := w.streamEvents(ctx, queues, sess, eng, events)
			if streamErr == nil {
				return
			}
			// Retrying after events reached the client would replay
			// them; only a turn that produced nothing is retried.
			if forwarded > 0 || !agent.IsRetryable(streamErr) || attempt >= retryBudget {
				w.reportError(ctx, queues, sess, streamErr)
				return
			}
			err = streamErr
		} else if !agent.IsRetryable(err) || attempt >= retryBudget {
			w.reportError(ctx, queues, sess, err)
			return
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("session_id", sess.ID()).
			Msg("worker: engine in invalid state, recovering")

		eng, err = w.recoverEngine(ctx, sess, eng)
		if err != nil {
			w.reportError(ctx, queues, sess, err)
			return
		}
	}
}

// ensureEngine resolves the session's live engine, creating one (resuming a
// valid persisted state blob when present) and pre-flight resetting a stuck
// instance left over from a turn that did not terminate cleanly.
func (w *Worker) ensureEngine(ctx context.Context, sess *session.Session) (agent.Engine, error) {
	eng := sess.Engine()
	if eng == nil {
		created, err := w.createEngine(sess)
		if err != nil {
			return nil, err
		}
		sess.SetEngine(created)
		return created, nil
	}

	if eng.Busy() {
		sess.MarkBusy()
		log.Warn().Str("session_id", sess.ID()).Msg("worker: engine busy from previous turn, resetting")

		if err := eng.Reset(ctx); err != nil {
			var recoverErr error
			eng, recoverErr = w.recoverEngine(ctx, sess, eng)
			if recoverErr != nil {
				return nil, recoverErr
			}
		}
		sess.MarkStreaming()
	}

	return eng, nil
}

// createEngine builds a fresh engine instance. A persisted state blob that
// fails validation or makes the factory error is discarded; a corrupt
// snapshot never fails the turn.
func (w *Worker) createEngine(sess *session.Session) (agent.Engine, error) {
	opts := agent.EngineOptions{
		SessionID:       sess.ID(),
		RequestApproval: w.approvalFunc(sess),
	}
	if state := sess.State(); agent.ValidStateBlob(state) {
		opts.State = state
	}

	eng, err := w.registry.Create(w.engineType, opts)
	if err != nil && opts.State != nil {
		log.Warn().Err(err).Str("session_id", sess.ID()).Msg("worker: resume failed, starting fresh")
		opts.State = nil
		eng, err = w.registry.Create(w.engineType, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator.Worker.createEngine: %w", err)
	}

	return eng, nil
}

// recoverEngine discards a misbehaving engine instance and recreates it.
func (w *Worker) recoverEngine(ctx context.Context, sess *session.Session, old agent.Engine) (agent.Engine, error) {
	if old != nil {
		if err := old.Close(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID()).Msg("worker: engine close during recovery failed")
		}
	}
	sess.SetEngine(nil)

	eng, err := w.createEngine(sess)
	if err != nil {
		return nil, err
	}
	sess.SetEngine(eng)
	return eng, nil
}

// streamEvents forwards engine events to the outbound queue, re-checking the
// cancellation flag at every event boundary. It returns how many events were
// forwarded and the engine's terminal error, if any.
func (w *Worker) streamEvents(ctx context.Context, queues *transport.QueueSet, sess *session.Session, eng agent.Engine, events <-chan agent.Event) (int, error) {
	forwarded := 0

	for ev := range events {
		if ev.Err != nil {
			drain(events)
			return forwarded, ev.Err
		}

		if sess.CancelRequested() {
			if err := eng.Interrupt(ctx); err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID()).Msg("worker: engine interrupt failed")
			}
			sess.ClearCancel()

			frame := transport.InterruptedFrame(sess.ID())
			if err := queues.EnqueueOutbound(ctx, frame); err == nil {
				sess.AppendHistory(frame)
			}
			log.Info().Str("session_id", sess.ID()).Msg("worker: turn interrupted")

			drain(events)
			return forwarded, nil
		}

		if err := queues.EnqueueOutbound(ctx, ev.Data); err != nil {
			// Connection torn down mid-turn; the engine stream still
			// has to finish so the next turn starts clean.
			drain(events)
			return forwarded, nil
		}
		sess.AppendHistory(ev.Data)
		forwarded++
	}

	return forwarded, nil
}

// reportError converts a turn failure into an error-typed outbound event;
// errors never cross the queue boundary as panics or broken streams.
func (w *Worker) reportError(ctx context.Context, queues *transport.QueueSet, sess *session.Session, err error) {
	log.Error().Err(err).Str("session_id", sess.ID()).Msg("worker: turn failed")

	frame := transport.ErrorFrame(sess.ID(), err)
	if enqErr := queues.EnqueueOutbound(ctx, frame); enqErr == nil {
		sess.AppendHistory(frame)
	}
}

// approvalFunc gives an engine its path into the approval handshake: emit a
// permission request on the session's current outbound path, then suspend on
// the correlator until a decision or timeout arrives. Decisions are keyed by
// request id alone, so the approving client may differ from the requester.
func (w *Worker) approvalFunc(sess *session.Session) agent.ApprovalFunc {
	return func(ctx context.Context, toolName string, input json.RawMessage) (agent.Decision, error) {
		requestID := uuid.NewString()

		if publish := sess.Outbound(); publish != nil {
			frame := transport.PermissionRequestFrame(requestID, toolName, input)
			if err := publish(ctx, frame); err != nil {
				return agent.Decision{}, fmt.Errorf("orchestrator.Worker.approvalFunc: %w", err)
			}
			sess.AppendHistory(frame)
		}

		return w.approvals.RequestApproval(ctx, requestID, sess.ID(), toolName, input)
	}
}

func drain(events <-chan agent.Event) {
	for range events {
	}
}
