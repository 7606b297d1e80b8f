package v1

import (
	"context"
	"encoding/json"

	"github.com/triagehq/triage/internal/domain"
)

// SessionAdmin abstracts session administration for handler testing.
// *session.Store satisfies this interface.
type SessionAdmin interface {
	List() []*domain.SessionInfo
	Info(id string) (*domain.SessionInfo, error)
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	Stop(id string) error
	History(id string, limit int) ([]json.RawMessage, error)
}

// DecisionSink abstracts approval resolution for handler testing.
// *approval.Correlator satisfies this interface.
type DecisionSink interface {
	SubmitDecision(id string, approved bool, reason string) bool
}
