package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/schemagov/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*storage.MemoryStore
	failWrites bool
}

func (s *failingStore) Write(ctx context.Context, name string, data []byte) error {
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.MemoryStore.Write(ctx, name, data)
}

func TestJournal(t *testing.T) {
	ctx := context.Background()

	t.Run("Begin assigns id timestamp and pending status", func(t *testing.T) {
		j := New(storage.NewMemoryStore())

		e, err := j.Begin(ctx, &Entry{FromVersion: "1.0.0", ToVersion: "1.1.0"})
		require.NoError(t, err)

		assert.NotEmpty(t, e.ID)
		assert.False(t, e.StartedAt.IsZero())
		assert.Equal(t, StatusPending, e.Status)
		assert.NotNil(t, e.RollbackSteps)
	})

	t.Run("Begin rejects nil and duplicate entries", func(t *testing.T) {
		j := New(storage.NewMemoryStore())

		_, err := j.Begin(ctx, nil)
		assert.Error(t, err)

		_, err = j.Begin(ctx, &Entry{ID: "m1"})
		require.NoError(t, err)
		_, err = j.Begin(ctx, &Entry{ID: "m1"})
		assert.Error(t, err)
	})

	t.Run("Update changes the stored entry", func(t *testing.T) {
		j := New(storage.NewMemoryStore())
		e, err := j.Begin(ctx, &Entry{ID: "m1", Status: StatusRunning})
		require.NoError(t, err)

		now := time.Now().UTC()
		updated, err := j.Update(ctx, e.ID, func(e *Entry) {
			e.Status = StatusSuccess
			e.StepsCompleted = 2
			e.CompletedAt = &now
		})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, updated.Status)

		got, ok := j.Get("m1")
		require.True(t, ok)
		assert.Equal(t, 2, got.StepsCompleted)
	})

	t.Run("Update of unknown id fails", func(t *testing.T) {
		j := New(storage.NewMemoryStore())

		_, err := j.Update(ctx, "nope", func(*Entry) {})
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("state survives a reload", func(t *testing.T) {
		store := storage.NewMemoryStore()
		j := New(store, WithDir("migrations"))
		_, err := j.Begin(ctx, &Entry{ID: "m1", FromVersion: "1.0.0", ToVersion: "2.0.0", Status: StatusSuccess})
		require.NoError(t, err)
		require.NoError(t, j.SaveRollbackSteps(ctx, "m1", []string{"minor_0_to_1", "major_1_to_2"}))

		reloaded := New(store, WithDir("migrations"))
		require.NoError(t, reloaded.Load(ctx))

		got, ok := reloaded.Get("m1")
		require.True(t, ok)
		assert.Equal(t, "2.0.0", got.ToVersion)
		steps, ok := reloaded.RollbackSteps("m1")
		require.True(t, ok)
		assert.Equal(t, []string{"minor_0_to_1", "major_1_to_2"}, steps)
		assert.Contains(t, store.Paths(), "migrations/"+HistoryFile)
	})

	t.Run("Load of an empty store succeeds", func(t *testing.T) {
		j := New(storage.NewMemoryStore())

		require.NoError(t, j.Load(ctx))
		assert.Empty(t, j.List())
	})

	t.Run("Load of a corrupt file fails", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Write(ctx, HistoryFile, []byte("{not json")))

		err := New(store).Load(ctx)
		assert.ErrorIs(t, err, ErrCorruptJournal)
	})

	t.Run("failed writes leave memory unchanged", func(t *testing.T) {
		store := &failingStore{MemoryStore: storage.NewMemoryStore()}
		j := New(store)
		_, err := j.Begin(ctx, &Entry{ID: "m1", Status: StatusRunning})
		require.NoError(t, err)

		store.failWrites = true

		_, err = j.Begin(ctx, &Entry{ID: "m2"})
		assert.Error(t, err)
		_, ok := j.Get("m2")
		assert.False(t, ok)

		_, err = j.Update(ctx, "m1", func(e *Entry) { e.Status = StatusFailed })
		assert.Error(t, err)
		got, _ := j.Get("m1")
		assert.Equal(t, StatusRunning, got.Status)

		assert.Error(t, j.SaveRollbackSteps(ctx, "m1", []string{"a"}))
		_, ok = j.RollbackSteps("m1")
		assert.False(t, ok)
	})

	t.Run("DeleteRollbackSteps removes the ledger entry", func(t *testing.T) {
		j := New(storage.NewMemoryStore())
		require.NoError(t, j.SaveRollbackSteps(ctx, "m1", []string{"a"}))

		require.NoError(t, j.DeleteRollbackSteps(ctx, "m1"))
		_, ok := j.RollbackSteps("m1")
		assert.False(t, ok)
		assert.NoError(t, j.DeleteRollbackSteps(ctx, "m1"))
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		j := New(storage.NewMemoryStore())
		_, err := j.Begin(ctx, &Entry{ID: "m1", RollbackSteps: []string{"a"}})
		require.NoError(t, err)

		got, _ := j.Get("m1")
		got.RollbackSteps[0] = "changed"

		again, _ := j.Get("m1")
		assert.Equal(t, "a", again.RollbackSteps[0])
	})

	t.Run("Stats counts by status", func(t *testing.T) {
		j := New(storage.NewMemoryStore())
		for id, status := range map[string]Status{
			"a": StatusSuccess, "b": StatusSuccess, "c": StatusFailed, "d": StatusRolledBack, "e": StatusRunning,
		} {
			_, err := j.Begin(ctx, &Entry{ID: id, Status: status})
			require.NoError(t, err)
		}

		stats := j.Stats()
		assert.Equal(t, 5, stats.Total)
		assert.Equal(t, 2, stats.Successful)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.RolledBack)
		assert.Equal(t, 1, stats.Running)
	})

	t.Run("Finalized covers terminal states", func(t *testing.T) {
		assert.True(t, StatusSuccess.Finalized())
		assert.True(t, StatusFailed.Finalized())
		assert.True(t, StatusRolledBack.Finalized())
		assert.False(t, StatusRunning.Finalized())
		assert.False(t, StatusPending.Finalized())
	})
}
