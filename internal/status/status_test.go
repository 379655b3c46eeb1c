package status

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/journal"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlite}
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			rec := event.NewRecord(event.Event{ID: "e1", Type: "analytics", Payload: map[string]any{"x": 1.0}, Priority: 5, SubmittedAt: submitted})
			require.NoError(t, s.Put(ctx, rec))

			got, err := s.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, event.StatusQueued, got.Status)
			assert.True(t, got.SubmittedAt.Equal(submitted))

			_, err = s.Update(ctx, "e1", event.Processing("w1"))
			require.NoError(t, err)
			done, err := s.Update(ctx, "e1", event.Completed(json.RawMessage(`{"analyzed":true}`), submitted))
			require.NoError(t, err)
			assert.Equal(t, event.StatusCompleted, done.Status)

			_, err = s.Update(ctx, "e1", event.Failed("late", submitted))
			require.ErrorIs(t, err, event.ErrTerminalStatus)
			require.ErrorIs(t, s.Put(ctx, rec), event.ErrTerminalStatus)

			got, err = s.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, event.StatusCompleted, got.Status)
			assert.JSONEq(t, `{"analyzed":true}`, string(got.Result))
			assert.Equal(t, "w1", got.WorkerID)
			assert.Empty(t, got.Error)
		})
	}
}

func TestStoreUpdateCreatesMissingRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Update(t.Context(), "ghost", event.Failed("unparseable", time.Now()))
			require.NoError(t, err)
			assert.Equal(t, event.StatusFailed, rec.Status)

			_, err = s.Get(t.Context(), "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreConcurrentUpdatesKeepTerminal(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.Put(ctx, event.Record{EventID: "e1", Status: event.StatusQueued}))

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if i%2 == 0 {
						_, _ = s.Update(ctx, "e1", event.Completed(json.RawMessage(`1`), time.Now()))
					} else {
						_, _ = s.Update(ctx, "e1", event.Failed("x", time.Now()))
					}
				}(i)
			}
			wg.Wait()

			got, err := s.Get(ctx, "e1")
			require.NoError(t, err)
			assert.True(t, got.Status.IsTerminal())
			if got.Status == event.StatusCompleted {
				assert.Empty(t, got.Error)
			} else {
				assert.Nil(t, got.Result)
			}
		})
	}
}

type failingStore struct{ MemoryStore }

func (failingStore) Update(context.Context, string, event.Patch) (event.Record, error) {
	return event.Record{}, stderrors.New("store down")
}

func TestTrackerIsBestEffort(t *testing.T) {
	tr := NewTracker(&failingStore{}, nil, "w1")
	assert.NotPanics(t, func() {
		tr.MarkProcessing(t.Context(), "e1")
		tr.MarkCompleted(t.Context(), "e1", json.RawMessage(`{}`))
	})
}

func TestTrackerJournalsTransitions(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	store := NewMemoryStore()
	tr := NewTracker(store, j, "w1")
	ctx := t.Context()

	tr.MarkProcessing(ctx, "e1")
	tr.MarkFailed(ctx, "e1", "boom")
	tr.MarkCompleted(ctx, "e1", json.RawMessage(`{}`)) // refused, not journaled
	tr.MarkFailed(ctx, "", "no id")                    // skipped

	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)

	entries, err := j.ByEvent(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, journal.TypeProcessing, entries[0].Type)
	assert.Equal(t, journal.TypeFailed, entries[1].Type)
}
