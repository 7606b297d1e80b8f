package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/domain"
)

// schemaVersion tags persisted session records. Records with any other
// version load as "not found" so callers fall back to a fresh session.
const schemaVersion = 1

// persistedSession is the on-disk envelope around the opaque engine state
// blob. The blob is stored verbatim; the core never interprets it beyond the
// structural check in agent.ValidStateBlob.
type persistedSession struct {
	SchemaVersion int             `json:"schema_version"`
	SessionID     string          `json:"session_id"`
	Task          string          `json:"task,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	EngineState   json.RawMessage `json:"engine_state,omitempty"`
}

func (s *Store) statePath(id string) string {
	return filepath.Join(s.opts.DataDir, id+".state.json")
}

func (s *Store) historyPath(id string) string {
	return filepath.Join(s.opts.DataDir, id+".history.jsonl")
}

// Save serializes the engine's state blob and writes the session record to
// disk via a temp-file-then-rename protocol, so a crash mid-write never
// corrupts the previous good copy. A SaveState that exceeds the configured
// timeout is abandoned and logged, not retried inline; the rest of the record
// is still written with the last known blob.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	engine := sess.engine
	sess.mu.Unlock()

	if engine != nil {
		saveCtx, cancel := context.WithTimeout(ctx, s.opts.SaveTimeout)
		blob, err := engine.SaveState(saveCtx)
		cancel()

		switch {
		case err != nil:
			log.Warn().Err(err).Str("session_id", sess.id).Msg("session: state serialize failed, keeping previous blob")
		case agent.ValidStateBlob(blob):
			sess.mu.Lock()
			sess.state = blob
			sess.mu.Unlock()
		default:
			log.Warn().Str("session_id", sess.id).Msg("session: engine produced invalid state blob, keeping previous")
		}
	}

	sess.mu.Lock()
	record := persistedSession{
		SchemaVersion: schemaVersion,
		SessionID:     sess.id,
		Task:          sess.task,
		CreatedAt:     sess.createdAt,
		UpdatedAt:     time.Now(),
		EngineState:   sess.state,
	}
	sess.mu.Unlock()

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("session.Store.Save(%q): %w", sess.id, err)
	}

	if err := atomicWrite(s.statePath(sess.id), data); err != nil {
		return fmt.Errorf("session.Store.Save(%q): %w", sess.id, err)
	}

	return nil
}

// SaveHistory appends unflushed history entries to the session's history
// file. It is a no-op unless the dirty flag is set, which amortizes I/O under
// high message rates.
func (s *Store) SaveHistory(sess *Session) error {
	entries := sess.takePendingHistory()
	if len(entries) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.historyPath(sess.id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		sess.restoreHistory(entries)
		return fmt.Errorf("session.Store.SaveHistory(%q): %w", sess.id, err)
	}

	w := bufio.NewWriter(f)
	for _, entry := range entries {
		if _, err = w.Write(entry); err != nil {
			break
		}
		if err = w.WriteByte('\n'); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		sess.restoreHistory(entries)
		return fmt.Errorf("session.Store.SaveHistory(%q): %w", sess.id, err)
	}

	return nil
}

// History returns up to limit persisted history entries for a session,
// oldest first. A zero limit returns everything. History is advisory; a
// missing file is an empty history, not an error.
func (s *Store) History(id string, limit int) ([]json.RawMessage, error) {
	if !domain.ValidSessionID(id) {
		return nil, nil
	}

	f, err := os.Open(s.historyPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session.Store.History(%q): %w", id, err)
	}
	defer f.Close()

	var entries []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry := make(json.RawMessage, len(line))
		copy(entry, line)
		entries = append(entries, entry)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session.Store.History(%q): %w", id, err)
	}

	return entries, nil
}

// load reads a persisted session record. Any structural or version mismatch
// returns domain.ErrNotFound so the caller falls back to a fresh session.
func (s *Store) load(id string) (*Session, error) {
	data, err := os.ReadFile(s.statePath(id))
	if err != nil {
		return nil, fmt.Errorf("session.Store.load(%q): %w", id, domain.ErrNotFound)
	}

	var record persistedSession
	if err := json.Unmarshal(data, &record); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("session: corrupt state file, starting fresh")
		return nil, fmt.Errorf("session.Store.load(%q): %w", id, domain.ErrNotFound)
	}

	if record.SchemaVersion != schemaVersion || record.SessionID != id {
		log.Warn().
			Int("schema_version", record.SchemaVersion).
			Str("session_id", id).
			Msg("session: state file schema mismatch, starting fresh")
		return nil, fmt.Errorf("session.Store.load(%q): %w", id, domain.ErrNotFound)
	}

	sess := newSession(id)
	sess.task = record.Task
	if !record.CreatedAt.IsZero() {
		sess.createdAt = record.CreatedAt
	}
	if !record.UpdatedAt.IsZero() {
		sess.lastActiveAt = record.UpdatedAt
	}
	if agent.ValidStateBlob(record.EngineState) {
		sess.state = record.EngineState
	}
	sess.historyLen = s.countHistory(id)

	log.Debug().Str("session_id", id).Msg("session: loaded from disk")
	return sess, nil
}

func (s *Store) countHistory(id string) int {
	f, err := os.Open(s.historyPath(id))
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n
}

func (s *Store) removeFiles(id string) error {
	for _, path := range []string{s.statePath(id), s.historyPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
