package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/domain"
)

// StoreOptions configures the session store and its background sweeps.
type StoreOptions struct {
	// DataDir is the directory holding per-session state and history files.
	DataDir string

	// SaveTimeout bounds a single engine SaveState call. Default 30s.
	SaveTimeout time.Duration

	// AutoSaveInterval is how often the auto-save sweep flushes dirty
	// history. Default 300s.
	AutoSaveInterval time.Duration

	// FlushTimeout bounds one whole auto-save sweep. Default 60s.
	FlushTimeout time.Duration

	// SweepInterval is how often the age sweep runs. Default 1h.
	SweepInterval time.Duration

	// MaxAge is the idle age past which sessions are evicted from memory
	// and orphaned files are deleted from disk. Default 24h.
	MaxAge time.Duration
}

func (o *StoreOptions) applyDefaults() {
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 30 * time.Second
	}
	if o.AutoSaveInterval <= 0 {
		o.AutoSaveInterval = 300 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 60 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 24 * time.Hour
	}
}

// Store owns the in-memory session map and its durable on-disk mirror.
type Store struct {
	opts StoreOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore(opts StoreOptions) (*Store, error) {
	opts.applyDefaults()

	if opts.DataDir == "" {
		return nil, fmt.Errorf("session.NewStore: data dir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("session.NewStore: %w", err)
	}

	return &Store{
		opts:     opts,
		sessions: make(map[string]*Session),
	}, nil
}

// GetOrCreate resolves a session record, loading persisted state from disk on
// first sight of the id. A corrupt or version-mismatched record on disk is
// treated as absent: the session starts fresh.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok = s.sessions[id]; ok {
		return sess
	}

	sess, err := s.load(id)
	if err != nil {
		sess = newSession(id)
	}
	s.sessions[id] = sess

	return sess
}

// Get returns an in-memory session or domain.ErrNotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session.Store.Get(%q): %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

// List returns snapshots of all in-memory sessions.
func (s *Store) List() []*domain.SessionInfo {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	infos := make([]*domain.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// Info returns a snapshot of an in-memory session or domain.ErrNotFound.
func (s *Store) Info(id string) (*domain.SessionInfo, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Info(), nil
}

// Stop raises the cancellation flag on an existing session. Unlike
// RequestCancel it does not create absent sessions; the admin surface has
// nothing to stop if the session is unknown.
func (s *Store) Stop(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return fmt.Errorf("session.Store.Stop: %w", err)
	}
	sess.RequestCancel()
	log.Info().Str("session_id", id).Msg("session: stop requested")
	return nil
}

// RequestCancel sets the cancellation flag for a session, creating the record
// if it does not exist yet.
func (s *Store) RequestCancel(id string) {
	s.GetOrCreate(id).RequestCancel()
}

// Delete evicts a session from memory, closes its engine, and removes its
// on-disk files.
func (s *Store) Delete(ctx context.Context, id string) error {
	// An id outside the allowed charset never produced a record or files;
	// refusing it here keeps path construction off the table entirely.
	if !domain.ValidSessionID(id) {
		return nil
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		// May still exist only on disk.
		if err := s.removeFiles(id); err != nil {
			return fmt.Errorf("session.Store.Delete(%q): %w", id, err)
		}
		return nil
	}

	s.closeEngine(ctx, sess)

	if err := s.removeFiles(id); err != nil {
		return fmt.Errorf("session.Store.Delete(%q): %w", id, err)
	}

	log.Info().Str("session_id", id).Msg("session: deleted")
	return nil
}

// Reset discards a session's engine and persisted state so its next turn
// starts from a clean slate. The record itself survives.
func (s *Store) Reset(ctx context.Context, id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return fmt.Errorf("session.Store.Reset: %w", err)
	}

	// Discarding the engine under an in-flight turn would leave the worker
	// streaming from a closed instance.
	if sess.Status() == domain.SessionStreaming {
		return fmt.Errorf("session.Store.Reset(%q): turn in flight: %w", id, domain.ErrConflict)
	}

	s.closeEngine(ctx, sess)

	sess.mu.Lock()
	sess.state = nil
	sess.task = ""
	sess.pendingHistory = nil
	sess.historyDirty = false
	sess.historyLen = 0
	sess.mu.Unlock()
	sess.ClearCancel()

	if err := s.removeFiles(id); err != nil {
		return fmt.Errorf("session.Store.Reset(%q): %w", id, err)
	}

	log.Info().Str("session_id", id).Msg("session: reset")
	return nil
}

// Len returns the number of in-memory sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) closeEngine(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	engine := sess.engine
	sess.engine = nil
	sess.mu.Unlock()

	if engine == nil {
		return
	}
	if err := engine.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", sess.id).Msg("session: engine close failed")
	}
}
