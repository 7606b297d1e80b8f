// Package session owns per-session records, their on-disk state, and their
// lifecycle. The store is process-wide and outlives any single connection.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/domain"
)

// OutboundFunc delivers one frame to the client currently serving a session.
type OutboundFunc func(ctx context.Context, data []byte) error

// Session is a durable conversation context. The store owns the record; the
// session worker holds a transient reference while processing a turn.
//
// Two locks guard a session: mu protects the mutable fields, and turnMu
// serializes turns so a new task never starts while a previous turn's
// persistence is still pending. The cancellation flag is atomic so the
// interrupt handler can set it without touching either lock.
type Session struct {
	id string

	cancel atomic.Bool
	turnMu sync.Mutex

	mu           sync.Mutex
	status       domain.SessionStatus
	task         string
	createdAt    time.Time
	lastActiveAt time.Time
	engine       agent.Engine
	state        json.RawMessage
	outbound     OutboundFunc

	historyLen     int
	pendingHistory []json.RawMessage
	historyDirty   bool
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		status:       domain.SessionIdle,
		createdAt:    now,
		lastActiveAt: now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns a snapshot for the admin surface.
func (s *Session) Info() *domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.SessionInfo{
		ID:           s.id,
		Status:       s.status,
		Task:         s.task,
		HistoryLen:   s.historyLen,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
	}
}

// BeginTurn acquires the turn lock, marks the session Streaming, records the
// task text, and clears the cancellation flag. The caller must pair it with
// EndTurn once persistence for the turn has completed.
func (s *Session) BeginTurn(task string) {
	s.turnMu.Lock()

	s.mu.Lock()
	s.status = domain.SessionStreaming
	s.task = task
	s.lastActiveAt = time.Now()
	s.mu.Unlock()

	s.cancel.Store(false)
}

// MarkBusy flags the session as recovering a stuck engine turn.
func (s *Session) MarkBusy() {
	s.mu.Lock()
	s.status = domain.SessionBusy
	s.mu.Unlock()
}

// MarkStreaming returns the session to Streaming after recovery.
func (s *Session) MarkStreaming() {
	s.mu.Lock()
	s.status = domain.SessionStreaming
	s.mu.Unlock()
}

// EndTurn marks the session Idle and releases the turn lock.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.status = domain.SessionIdle
	s.lastActiveAt = time.Now()
	s.mu.Unlock()

	s.turnMu.Unlock()
}

// RequestCancel sets the advisory cancellation flag. The worker observes and
// clears it at event boundaries.
func (s *Session) RequestCancel() { s.cancel.Store(true) }

// CancelRequested reports whether cancellation has been requested.
func (s *Session) CancelRequested() bool { return s.cancel.Load() }

// ClearCancel resets the cancellation flag.
func (s *Session) ClearCancel() { s.cancel.Store(false) }

// Engine returns the live engine handle, or nil if none exists yet.
func (s *Session) Engine() agent.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// SetEngine installs a new engine handle.
func (s *Session) SetEngine(engine agent.Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

// State returns the last known engine state blob.
func (s *Session) State() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOutbound binds the session to its current connection's outbound path.
// The worker refreshes it at the start of every turn, so an engine created on
// an earlier connection still reaches the client after a reconnect.
func (s *Session) SetOutbound(fn OutboundFunc) {
	s.mu.Lock()
	s.outbound = fn
	s.mu.Unlock()
}

// Outbound returns the session's current outbound path, or nil when no
// connection is serving it.
func (s *Session) Outbound() OutboundFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound
}

// AppendHistory records an emitted event in the advisory history log and
// marks it dirty for the next flush.
func (s *Session) AppendHistory(event json.RawMessage) {
	entry := make(json.RawMessage, len(event))
	copy(entry, event)

	s.mu.Lock()
	s.pendingHistory = append(s.pendingHistory, entry)
	s.historyLen++
	s.historyDirty = true
	s.mu.Unlock()
}

// HistoryDirty reports whether unflushed history entries exist.
func (s *Session) HistoryDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyDirty
}

// takePendingHistory drains the unflushed entries and clears the dirty flag.
// Callers that fail to write the entries hand them back via restoreHistory.
func (s *Session) takePendingHistory() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.historyDirty {
		return nil
	}
	entries := s.pendingHistory
	s.pendingHistory = nil
	s.historyDirty = false
	return entries
}

func (s *Session) restoreHistory(entries []json.RawMessage) {
	s.mu.Lock()
	s.pendingHistory = append(entries, s.pendingHistory...)
	s.historyDirty = true
	s.mu.Unlock()
}
