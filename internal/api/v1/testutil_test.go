package v1_test

import (
	"context"
	"encoding/json"

	"github.com/triagehq/triage/internal/domain"
)

// mockSessionAdmin implements v1.SessionAdmin.
type mockSessionAdmin struct {
	infos   map[string]*domain.SessionInfo
	history map[string][]json.RawMessage

	deleted []string
	reset   []string
	stopped []string

	deleteErr error
	resetErr  error
	stopErr   error
}

func newMockSessionAdmin() *mockSessionAdmin {
	return &mockSessionAdmin{
		infos:   make(map[string]*domain.SessionInfo),
		history: make(map[string][]json.RawMessage),
	}
}

func (m *mockSessionAdmin) List() []*domain.SessionInfo {
	out := make([]*domain.SessionInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}
	return out
}

func (m *mockSessionAdmin) Info(id string) (*domain.SessionInfo, error) {
	info, ok := m.infos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return info, nil
}

func (m *mockSessionAdmin) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	delete(m.infos, id)
	return nil
}

func (m *mockSessionAdmin) Reset(_ context.Context, id string) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	if _, ok := m.infos[id]; !ok {
		return domain.ErrNotFound
	}
	m.reset = append(m.reset, id)
	return nil
}

func (m *mockSessionAdmin) Stop(id string) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	if _, ok := m.infos[id]; !ok {
		return domain.ErrNotFound
	}
	m.stopped = append(m.stopped, id)
	return nil
}

func (m *mockSessionAdmin) History(id string, limit int) ([]json.RawMessage, error) {
	entries := m.history[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// mockDecisionSink implements v1.DecisionSink.
type mockDecisionSink struct {
	accept   bool
	id       string
	approved bool
	reason   string
}

func (m *mockDecisionSink) SubmitDecision(id string, approved bool, reason string) bool {
	m.id = id
	m.approved = approved
	m.reason = reason
	return m.accept
}
