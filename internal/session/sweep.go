package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/triagehq/triage/internal/domain"
)

// RunAutoSave flushes dirty history for sessions that are not mid-turn on a
// fixed interval until ctx is cancelled. Each sweep runs its flushes
// concurrently under a bounded total timeout; a slow individual save is
// logged but never stalls the whole sweep.
func (s *Store) RunAutoSave(ctx context.Context) {
	ticker := time.NewTicker(s.opts.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.autoSaveOnce(ctx)
		}
	}
}

func (s *Store) autoSaveOnce(ctx context.Context) {
	s.mu.RLock()
	candidates := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.RUnlock()

	sweepCtx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(sweepCtx)
	flushed := 0

	for _, sess := range candidates {
		// Streaming sessions are persisted by the worker when the turn
		// ends; flushing them here would race the in-flight turn.
		if sess.Status() == domain.SessionStreaming || !sess.HistoryDirty() {
			continue
		}
		flushed++

		g.Go(func() error {
			start := time.Now()
			if err := s.SaveHistory(sess); err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID()).Msg("session: auto-save flush failed")
				return nil
			}
			if elapsed := time.Since(start); elapsed > s.opts.SaveTimeout {
				log.Warn().Dur("elapsed", elapsed).Str("session_id", sess.ID()).Msg("session: slow auto-save flush")
			}
			return nil
		})
	}

	_ = g.Wait()

	if flushed > 0 {
		log.Debug().Int("flushed", flushed).Msg("session: auto-save sweep complete")
	}
}

// RunAgeSweep evicts idle sessions past the max age and deletes orphaned
// on-disk files past the same threshold, on a fixed interval until ctx is
// cancelled. Evicted sessions get one final save before leaving memory.
func (s *Store) RunAgeSweep(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ageSweepOnce(ctx, time.Now())
		}
	}
}

func (s *Store) ageSweepOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.opts.MaxAge)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		info := sess.Info()
		if info.Status == domain.SessionStreaming || !info.LastActiveAt.Before(cutoff) {
			continue
		}
		// A worker that already resolved this record may be between
		// pickup and BeginTurn; the turn lock is the only authority on
		// whether a turn is underway. A held lock means the session is
		// live no matter what its status says, so it must be skipped.
		// The lock is kept through the final save and engine close below.
		if !sess.turnMu.TryLock() {
			continue
		}
		expired = append(expired, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		if err := s.Save(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID()).Msg("session: final save before eviction failed")
		}
		if err := s.SaveHistory(sess); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID()).Msg("session: final history flush before eviction failed")
		}
		s.closeEngine(ctx, sess)
		sess.turnMu.Unlock()
		log.Info().Str("session_id", sess.ID()).Msg("session: evicted idle session")
	}

	s.sweepOrphanedFiles(cutoff)
}

// sweepOrphanedFiles deletes on-disk session files past the age threshold
// that no in-memory session owns.
func (s *Store) sweepOrphanedFiles(cutoff time.Time) {
	entries, err := os.ReadDir(s.opts.DataDir)
	if err != nil {
		log.Warn().Err(err).Msg("session: orphan sweep read dir failed")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var id string
		switch {
		case strings.HasSuffix(name, ".state.json"):
			id = strings.TrimSuffix(name, ".state.json")
		case strings.HasSuffix(name, ".history.jsonl"):
			id = strings.TrimSuffix(name, ".history.jsonl")
		default:
			continue
		}

		s.mu.RLock()
		_, inMemory := s.sessions[id]
		s.mu.RUnlock()
		if inMemory {
			continue
		}

		fi, err := entry.Info()
		if err != nil || !fi.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.opts.DataDir, name)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("session: orphan file delete failed")
			continue
		}
		log.Info().Str("path", path).Msg("session: deleted orphaned session file")
	}
}
