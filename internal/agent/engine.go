package agent

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnknownEngine is returned when a requested engine type is not registered.
var ErrUnknownEngine = errors.New("agent: unknown engine type")

// ErrEngineBusy is returned by an engine that is still mid-turn from a
// previous cycle and cannot accept new work until reset.
var ErrEngineBusy = errors.New("agent: engine busy")

// ErrInvalidEngineState is returned when an engine operation is invalid for
// the engine's current internal state.
var ErrInvalidEngineState = errors.New("agent: invalid engine state")

// Event is a single record produced by an engine while driving a turn.
// Data is opaque to the orchestration layer and forwarded to the client
// unchanged. Err, when set, terminates the turn; no further events follow.
type Event struct {
	Data json.RawMessage
	Err  error
}

// Decision is the outcome of a tool-approval handshake.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalFunc suspends the engine's turn until a human approves or denies a
// tool invocation. Implementations must resolve within a bounded time
// (timeouts resolve as denial, never as an error).
type ApprovalFunc func(ctx context.Context, toolName string, input json.RawMessage) (Decision, error)

// EngineOptions configures a new engine instance.
type EngineOptions struct {
	SessionID string

	// State is a previously persisted state blob to resume from, or nil to
	// start fresh. Factories must not fail on a blob they cannot resume;
	// they start fresh instead.
	State json.RawMessage

	// RequestApproval is invoked by the engine before running a tool that
	// needs human sign-off. May be nil, in which case tools run unapproved.
	RequestApproval ApprovalFunc
}

// Engine is the external conversational-agent engine bound to one session.
// The orchestration layer treats it as an opaque unit of work: it submits a
// task, consumes the resulting event stream, and never inspects tool
// semantics.
type Engine interface {
	// Run drives one turn. The returned channel carries every event the
	// engine produces for this turn and is closed when the turn ends,
	// whether by completion, interruption, or error.
	Run(ctx context.Context, task string) (<-chan Event, error)

	// Interrupt asks the engine to stop its in-flight turn at the next
	// safe boundary.
	Interrupt(ctx context.Context) error

	// Busy reports whether the engine considers itself mid-turn.
	Busy() bool

	// Reset clears a stuck turn so new work can start.
	Reset(ctx context.Context) error

	// SaveState returns a versioned, opaque snapshot of the engine's
	// resumable context.
	SaveState(ctx context.Context) (json.RawMessage, error)

	// Close releases all engine resources.
	Close(ctx context.Context) error
}

// IsRetryable reports whether an engine error belongs to the busy /
// invalid-state class that a reset-and-retry cycle can recover from.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEngineBusy) || errors.Is(err, ErrInvalidEngineState)
}

// ValidStateBlob checks that a persisted state blob is structurally sound
// enough to hand to an engine factory: a JSON object carrying a supported
// version tag and a context payload. The blob's contents are otherwise
// opaque to the orchestration layer.
func ValidStateBlob(blob json.RawMessage) bool {
	if len(blob) == 0 {
		return false
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return false
	}

	rawVersion, ok := envelope["version"]
	if !ok {
		return false
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return false
	}
	if version < 1 || version > StateBlobVersion {
		return false
	}

	_, ok = envelope["context"]
	return ok
}

// StateBlobVersion is the newest engine state blob version this build
// understands.
const StateBlobVersion = 1
