package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagehq/triage/internal/session"
)

func TestAutoSave_FlushesIdleDirtySessionsOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := session.NewStore(session.StoreOptions{
		DataDir:          dir,
		AutoSaveInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	// s2 is mid-turn with dirty history; s3 is idle with dirty history.
	streaming := store.GetOrCreate("s2")
	streaming.BeginTurn("long investigation")
	streaming.AppendHistory(json.RawMessage(`{"type":"text","content":"partial"}`))

	idle := store.GetOrCreate("s3")
	idle.AppendHistory(json.RawMessage(`{"type":"text","content":"done"}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunAutoSave(ctx)

	require.Eventually(t, func() bool {
		return !idle.HistoryDirty()
	}, 2*time.Second, 5*time.Millisecond, "idle dirty session must be flushed")

	entries, err := store.History("s3", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The streaming session must be skipped for as long as it streams.
	assert.True(t, streaming.HistoryDirty())
	_, err = os.Stat(filepath.Join(dir, "s2.history.jsonl"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "streaming session must not be flushed")
}

func TestAgeSweep_EvictsIdleSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := session.NewStore(session.StoreOptions{
		DataDir:       dir,
		SweepInterval: 20 * time.Millisecond,
		MaxAge:        40 * time.Millisecond,
	})
	require.NoError(t, err)

	sess := store.GetOrCreate("old")
	sess.AppendHistory(json.RawMessage(`{"type":"text","content":"stale"}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunAgeSweep(ctx)

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 2*time.Second, 5*time.Millisecond, "idle session past max age must be evicted")

	// Eviction runs the save-once-more path before dropping the record.
	_, err = os.Stat(filepath.Join(dir, "old.state.json"))
	assert.NoError(t, err, "final save must persist the record")
	entries, err := store.History("old", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "final history flush must run")
}

func TestAgeSweep_KeepsActiveSessions(t *testing.T) {
	t.Parallel()

	store, err := session.NewStore(session.StoreOptions{
		DataDir:       t.TempDir(),
		SweepInterval: 20 * time.Millisecond,
		MaxAge:        40 * time.Millisecond,
	})
	require.NoError(t, err)

	// A streaming session never ages out, no matter how old.
	store.GetOrCreate("busy").BeginTurn("still going")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunAgeSweep(ctx)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, store.Len())
}

func TestAgeSweep_SkipsSessionsWithTurnLockHeld(t *testing.T) {
	t.Parallel()

	store, err := session.NewStore(session.StoreOptions{
		DataDir:       t.TempDir(),
		SweepInterval: 20 * time.Millisecond,
		MaxAge:        30 * time.Millisecond,
	})
	require.NoError(t, err)

	// A held turn lock with a non-streaming status models the recovery
	// window mid-turn; the sweep must not evict or close the engine under
	// it no matter how stale the timestamps look.
	sess := store.GetOrCreate("held")
	sess.BeginTurn("stuck engine recovery")
	sess.MarkBusy()
	time.Sleep(60 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunAgeSweep(ctx)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, store.Len(), "session with an in-flight turn must survive the sweep")

	// Once the turn ends the session ages out normally.
	sess.EndTurn()
	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAgeSweep_DeletesOrphanedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := session.NewStore(session.StoreOptions{
		DataDir:       dir,
		SweepInterval: 20 * time.Millisecond,
		MaxAge:        time.Minute,
	})
	require.NoError(t, err)

	// An on-disk record with no in-memory session, older than max age.
	orphanState := filepath.Join(dir, "ghost.state.json")
	orphanHistory := filepath.Join(dir, "ghost.history.jsonl")
	require.NoError(t, os.WriteFile(orphanState, []byte(`{"schema_version":1,"session_id":"ghost"}`), 0o600))
	require.NoError(t, os.WriteFile(orphanHistory, []byte(`{"type":"text"}`+"\n"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphanState, old, old))
	require.NoError(t, os.Chtimes(orphanHistory, old, old))

	// A fresh file for a live session must survive.
	live := store.GetOrCreate("live")
	require.NoError(t, store.Save(context.Background(), live))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunAgeSweep(ctx)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(orphanState)
		return errors.Is(statErr, os.ErrNotExist)
	}, 2*time.Second, 5*time.Millisecond, "orphaned state file must be deleted")

	_, err = os.Stat(orphanHistory)
	assert.True(t, errors.Is(err, os.ErrNotExist), "orphaned history file must be deleted")
	_, err = os.Stat(filepath.Join(dir, "live.state.json"))
	assert.NoError(t, err, "live session file must survive")
}
