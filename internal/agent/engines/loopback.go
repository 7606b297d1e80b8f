// Package engines contains built-in engine backends. The loopback engine is
// the only in-tree backend; production engines are registered by the embedding
// application.
package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triagehq/triage/internal/agent"
)

// Loopback is a self-contained engine for local development and smoke tests.
// It echoes each task back as a short event sequence, routes tasks of the form
// "run:<tool>" through the approval handshake, and keeps a resumable
// transcript in its state blob.
type Loopback struct {
	sessionID string
	approve   agent.ApprovalFunc

	running   atomic.Bool
	interrupt chan struct{}

	mu         sync.Mutex
	transcript []string
}

type loopbackContext struct {
	Transcript []string `json:"transcript"`
}

type loopbackState struct {
	Version int             `json:"version"`
	Context loopbackContext `json:"context"`
}

// NewLoopback is an agent.EngineFactory.
func NewLoopback(opts agent.EngineOptions) (agent.Engine, error) {
	eng := &Loopback{
		sessionID: opts.SessionID,
		approve:   opts.RequestApproval,
		interrupt: make(chan struct{}, 1),
	}

	if agent.ValidStateBlob(opts.State) {
		var state loopbackState
		if err := json.Unmarshal(opts.State, &state); err == nil {
			eng.transcript = state.Context.Transcript
		}
	}

	return eng, nil
}

func (e *Loopback) Run(ctx context.Context, task string) (<-chan agent.Event, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engines.Loopback.Run: %w", agent.ErrEngineBusy)
	}

	// Drain any interrupt left over from a previous turn.
	select {
	case <-e.interrupt:
	default:
	}

	e.mu.Lock()
	e.transcript = append(e.transcript, task)
	e.mu.Unlock()

	events := make(chan agent.Event)

	go func() {
		defer close(events)
		defer e.running.Store(false)

		emit := func(v any) bool {
			data, err := json.Marshal(v)
			if err != nil {
				select {
				case events <- agent.Event{Err: fmt.Errorf("engines.Loopback.Run: marshal event: %w", err)}:
				case <-ctx.Done():
				}
				return false
			}
			select {
			case events <- agent.Event{Data: data}:
				return true
			case <-e.interrupt:
				return false
			case <-ctx.Done():
				return false
			}
		}

		if !emit(map[string]any{
			"type":       "turn_start",
			"session_id": e.sessionID,
			"timestamp":  time.Now().UTC(),
		}) {
			return
		}

		if tool, ok := strings.CutPrefix(task, "run:"); ok && e.approve != nil {
			input, _ := json.Marshal(map[string]string{"tool": tool})
			decision, err := e.approve(ctx, tool, input)
			if err != nil {
				select {
				case events <- agent.Event{Err: fmt.Errorf("engines.Loopback.Run: approval: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if !emit(map[string]any{
				"type":      "tool_decision",
				"tool_name": tool,
				"approved":  decision.Approved,
				"reason":    decision.Reason,
			}) {
				return
			}
		}

		if !emit(map[string]any{
			"type":       "text",
			"session_id": e.sessionID,
			"content":    "echo: " + task,
		}) {
			return
		}

		emit(map[string]any{
			"type":       "turn_complete",
			"session_id": e.sessionID,
		})
	}()

	return events, nil
}

func (e *Loopback) Interrupt(_ context.Context) error {
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
	return nil
}

func (e *Loopback) Busy() bool {
	return e.running.Load()
}

func (e *Loopback) Reset(_ context.Context) error {
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
	e.running.Store(false)
	return nil
}

func (e *Loopback) SaveState(_ context.Context) (json.RawMessage, error) {
	e.mu.Lock()
	transcript := make([]string, len(e.transcript))
	copy(transcript, e.transcript)
	e.mu.Unlock()

	blob, err := json.Marshal(loopbackState{
		Version: agent.StateBlobVersion,
		Context: loopbackContext{Transcript: transcript},
	})
	if err != nil {
		return nil, fmt.Errorf("engines.Loopback.SaveState: %w", err)
	}

	return blob, nil
}

func (e *Loopback) Close(_ context.Context) error {
	e.running.Store(false)
	return nil
}
