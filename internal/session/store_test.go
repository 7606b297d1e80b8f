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

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/domain"
	"github.com/triagehq/triage/internal/session"
)

// stubEngine implements agent.Engine with a fixed state blob.
type stubEngine struct {
	state    json.RawMessage
	stateErr error
	slow     time.Duration
	closed   bool
}

func (e *stubEngine) Run(context.Context, string) (<-chan agent.Event, error) {
	events := make(chan agent.Event)
	close(events)
	return events, nil
}

func (e *stubEngine) Interrupt(context.Context) error { return nil }
func (e *stubEngine) Busy() bool                      { return false }
func (e *stubEngine) Reset(context.Context) error     { return nil }

func (e *stubEngine) SaveState(ctx context.Context) (json.RawMessage, error) {
	if e.slow > 0 {
		select {
		case <-time.After(e.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.state, e.stateErr
}

func (e *stubEngine) Close(context.Context) error {
	e.closed = true
	return nil
}

func validBlob(t *testing.T, marker string) json.RawMessage {
	t.Helper()
	blob, err := json.Marshal(map[string]any{
		"version": 1,
		"context": map[string]string{"marker": marker},
	})
	require.NoError(t, err)
	return blob
}

func newTestStore(t *testing.T, dir string) *session.Store {
	t.Helper()
	store, err := session.NewStore(session.StoreOptions{DataDir: dir})
	require.NoError(t, err)
	return store
}

func TestStore_GetOrCreate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())

	sess := store.GetOrCreate("s1")
	require.NotNil(t, sess)
	assert.Equal(t, "s1", sess.ID())
	assert.Equal(t, domain.SessionIdle, sess.Status())

	// Same id resolves to the same record.
	assert.Same(t, sess, store.GetOrCreate("s1"))
	assert.Equal(t, 1, store.Len())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	blob := validBlob(t, "roundtrip")
	sess := store.GetOrCreate("s1")
	sess.BeginTurn("check the pager queue")
	sess.SetEngine(&stubEngine{state: blob})
	sess.EndTurn()

	require.NoError(t, store.Save(context.Background(), sess))

	// A fresh store (simulated restart) must reproduce the blob.
	reloaded := newTestStore(t, dir).GetOrCreate("s1")
	assert.JSONEq(t, string(blob), string(reloaded.State()))
	assert.True(t, agent.ValidStateBlob(reloaded.State()))

	info := reloaded.Info()
	assert.Equal(t, "check the pager queue", info.Task)
	assert.Equal(t, domain.SessionIdle, info.Status)
}

func TestStore_LoadRejectsCorruptRecords(t *testing.T) {
	t.Parallel()

	t.Run("garbage file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.state.json"), []byte("{{{not json"), 0o600))

		sess := newTestStore(t, dir).GetOrCreate("s1")
		assert.Nil(t, sess.State(), "corrupt record must load as a fresh session")
	})

	t.Run("schema version mismatch", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		record := `{"schema_version":99,"session_id":"s1","engine_state":{"version":1,"context":{}}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.state.json"), []byte(record), 0o600))

		sess := newTestStore(t, dir).GetOrCreate("s1")
		assert.Nil(t, sess.State())
	})

	t.Run("session id mismatch", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		record := `{"schema_version":1,"session_id":"other","engine_state":{"version":1,"context":{}}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.state.json"), []byte(record), 0o600))

		sess := newTestStore(t, dir).GetOrCreate("s1")
		assert.Nil(t, sess.State())
	})

	t.Run("invalid embedded blob dropped", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		record := `{"schema_version":1,"session_id":"s1","engine_state":{"no_version":true}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.state.json"), []byte(record), 0o600))

		sess := newTestStore(t, dir).GetOrCreate("s1")
		assert.Nil(t, sess.State(), "blob failing validation must not survive the load")
	})
}

func TestStore_SaveKeepsPreviousBlobOnSerializeTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := session.NewStore(session.StoreOptions{
		DataDir:     dir,
		SaveTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	blob := validBlob(t, "first")
	sess := store.GetOrCreate("s1")
	sess.SetEngine(&stubEngine{state: blob})
	require.NoError(t, store.Save(context.Background(), sess))

	// Second save: the engine hangs past the timeout; the previous good
	// blob must survive.
	sess.SetEngine(&stubEngine{state: validBlob(t, "second"), slow: time.Second})
	require.NoError(t, store.Save(context.Background(), sess))

	reloaded := newTestStore(t, dir).GetOrCreate("s1")
	assert.JSONEq(t, string(blob), string(reloaded.State()))
}

func TestStore_SaveHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	sess := store.GetOrCreate("s1")

	t.Run("no-op without dirty flag", func(t *testing.T) {
		require.NoError(t, store.SaveHistory(sess))
		_, err := os.Stat(filepath.Join(dir, "s1.history.jsonl"))
		assert.True(t, errors.Is(err, os.ErrNotExist), "clean session must not touch disk")
	})

	t.Run("appends pending entries", func(t *testing.T) {
		sess.AppendHistory(json.RawMessage(`{"type":"text","content":"one"}`))
		sess.AppendHistory(json.RawMessage(`{"type":"text","content":"two"}`))
		require.True(t, sess.HistoryDirty())

		require.NoError(t, store.SaveHistory(sess))
		assert.False(t, sess.HistoryDirty())

		entries, err := store.History("s1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.JSONEq(t, `{"type":"text","content":"one"}`, string(entries[0]))
		assert.JSONEq(t, `{"type":"text","content":"two"}`, string(entries[1]))
	})

	t.Run("subsequent flush appends only new entries", func(t *testing.T) {
		sess.AppendHistory(json.RawMessage(`{"type":"text","content":"three"}`))
		require.NoError(t, store.SaveHistory(sess))

		entries, err := store.History("s1", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("limit keeps newest entries", func(t *testing.T) {
		entries, err := store.History("s1", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.JSONEq(t, `{"type":"text","content":"two"}`, string(entries[0]))
		assert.JSONEq(t, `{"type":"text","content":"three"}`, string(entries[1]))
	})
}

func TestStore_HistorySurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	sess := store.GetOrCreate("s1")
	sess.AppendHistory(json.RawMessage(`{"type":"text"}`))
	require.NoError(t, store.SaveHistory(sess))
	require.NoError(t, store.Save(context.Background(), sess))

	reloaded := newTestStore(t, dir).GetOrCreate("s1")
	assert.Equal(t, 1, reloaded.Info().HistoryLen)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	eng := &stubEngine{state: validBlob(t, "gone")}
	sess := store.GetOrCreate("s1")
	sess.SetEngine(eng)
	sess.AppendHistory(json.RawMessage(`{"type":"text"}`))
	require.NoError(t, store.Save(context.Background(), sess))
	require.NoError(t, store.SaveHistory(sess))

	require.NoError(t, store.Delete(context.Background(), "s1"))

	assert.True(t, eng.closed, "engine must be closed on delete")
	assert.Zero(t, store.Len())
	_, err := os.Stat(filepath.Join(dir, "s1.state.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(dir, "s1.history.jsonl"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Deleting an unknown session is not an error.
	require.NoError(t, store.Delete(context.Background(), "never-existed"))
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	eng := &stubEngine{state: validBlob(t, "stale")}
	sess := store.GetOrCreate("s1")
	sess.SetEngine(eng)
	sess.AppendHistory(json.RawMessage(`{"type":"text"}`))
	require.NoError(t, store.Save(context.Background(), sess))

	require.NoError(t, store.Reset(context.Background(), "s1"))

	assert.True(t, eng.closed)
	assert.Nil(t, sess.Engine())
	assert.Nil(t, sess.State())
	assert.Zero(t, sess.Info().HistoryLen)
	_, err := os.Stat(filepath.Join(dir, "s1.state.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// The record itself survives.
	assert.Equal(t, 1, store.Len())

	// Resetting an unknown session reports not found.
	err = store.Reset(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ResetRefusedMidTurn(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())

	sess := store.GetOrCreate("s1")
	sess.BeginTurn("still streaming")
	defer sess.EndTurn()

	err := store.Reset(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestStore_RejectsTraversalIDs(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	store, err := session.NewStore(session.StoreOptions{DataDir: filepath.Join(parent, "data")})
	require.NoError(t, err)

	// A file one level above the data dir that a traversal id would hit.
	victim := filepath.Join(parent, "escaped.state.json")
	require.NoError(t, os.WriteFile(victim, []byte(`{"schema_version":1}`), 0o600))

	require.NoError(t, store.Delete(context.Background(), "../escaped"))
	_, err = os.Stat(victim)
	assert.NoError(t, err, "delete must never reach outside the data dir")

	entries, err := store.History("../escaped", 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "history must never read outside the data dir")
}

func TestStore_StopAndCancelFlags(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())

	t.Run("stop requires an existing session", func(t *testing.T) {
		t.Parallel()
		err := store.Stop("missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("stop raises the flag", func(t *testing.T) {
		t.Parallel()
		sess := store.GetOrCreate("s-stop")
		require.NoError(t, store.Stop("s-stop"))
		assert.True(t, sess.CancelRequested())
	})

	t.Run("request cancel creates the record", func(t *testing.T) {
		t.Parallel()
		store.RequestCancel("s-new")
		sess, err := store.Get("s-new")
		require.NoError(t, err)
		assert.True(t, sess.CancelRequested())
	})
}

func TestStore_ListAndInfo(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	store.GetOrCreate("s1")
	store.GetOrCreate("s2").BeginTurn("investigate")

	infos := store.List()
	assert.Len(t, infos, 2)

	info, err := store.Info("s2")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStreaming, info.Status)
	assert.Equal(t, "investigate", info.Task)

	_, err = store.Info("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
