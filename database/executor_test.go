package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLExecutor {
	t.Helper()
	exec, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func TestSQLExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("Execute runs statements against sqlite", func(t *testing.T) {
		exec := newTestSQLite(t)

		require.NoError(t, exec.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)"))
		require.NoError(t, exec.Execute(ctx, "INSERT INTO t (id, name) VALUES (1, "+Quote("o'brien")+")"))

		var name string
		require.NoError(t, exec.DB().QueryRowContext(ctx, "SELECT name FROM t WHERE id = 1").Scan(&name))
		assert.Equal(t, "o'brien", name)
	})

	t.Run("Execute wraps driver errors", func(t *testing.T) {
		exec := newTestSQLite(t)

		err := exec.Execute(ctx, "INSERT INTO missing VALUES (1)")
		assert.Error(t, err)
	})

	t.Run("QueryCheck interprets counts", func(t *testing.T) {
		exec := newTestSQLite(t)
		require.NoError(t, exec.Execute(ctx, "CREATE TABLE t (id INTEGER)"))

		ok, err := exec.QueryCheck(ctx, "SELECT COUNT(*) FROM t")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, exec.Execute(ctx, "INSERT INTO t VALUES (7)"))
		ok, err = exec.QueryCheck(ctx, "SELECT COUNT(*) FROM t")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("QueryCheck with no rows is false", func(t *testing.T) {
		exec := newTestSQLite(t)
		require.NoError(t, exec.Execute(ctx, "CREATE TABLE t (id INTEGER)"))

		ok, err := exec.QueryCheck(ctx, "SELECT id FROM t")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Open rejects unknown drivers", func(t *testing.T) {
		_, err := Open(ctx, "oracle", "dsn")
		assert.Error(t, err)
	})

	t.Run("OpenPostgres rejects malformed dsn", func(t *testing.T) {
		_, err := OpenPostgres(ctx, "postgres://%zz")
		assert.Error(t, err)
	})
}

func TestTruthy(t *testing.T) {
	t.Run("truthy understands driver scan types", func(t *testing.T) {
		assert.True(t, truthy(int64(1)))
		assert.False(t, truthy(int64(0)))
		assert.True(t, truthy(true))
		assert.False(t, truthy(nil))
		assert.True(t, truthy([]byte("t")))
		assert.False(t, truthy("0"))
		assert.False(t, truthy(""))
		assert.True(t, truthy("yes"))
	})
}

func TestSimulatedExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("records statements in order", func(t *testing.T) {
		exec := NewSimulatedExecutor(nil)

		require.NoError(t, exec.Execute(ctx, "A"))
		require.NoError(t, exec.Execute(ctx, "B"))

		assert.Equal(t, []string{"A", "B"}, exec.Statements())
	})

	t.Run("injected failures match by substring", func(t *testing.T) {
		exec := NewSimulatedExecutor(nil)
		boom := errors.New("boom")
		exec.FailOn("minor_", boom)

		assert.ErrorIs(t, exec.Execute(ctx, "INSERT minor_1_to_2"), boom)
		assert.NoError(t, exec.Execute(ctx, "INSERT patch_0_to_1"))
		assert.Len(t, exec.Statements(), 1)

		exec.ClearFailures()
		assert.NoError(t, exec.Execute(ctx, "INSERT minor_1_to_2"))
	})

	t.Run("checks default to true and can be overridden", func(t *testing.T) {
		exec := NewSimulatedExecutor(nil)

		ok, err := exec.QueryCheck(ctx, "SELECT 1")
		require.NoError(t, err)
		assert.True(t, ok)

		exec.SetCheck("ledger", false)
		ok, err = exec.QueryCheck(ctx, "SELECT COUNT(*) FROM ledger")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hook runs before each statement", func(t *testing.T) {
		exec := NewSimulatedExecutor(nil)
		var seen []string
		exec.SetHook(func(_ context.Context, stmt string) error {
			seen = append(seen, stmt)
			return nil
		})

		require.NoError(t, exec.Execute(ctx, "X"))
		assert.Equal(t, []string{"X"}, seen)
	})
}
