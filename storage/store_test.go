package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreWithClient(RedisConfig{Address: mr.Addr(), Prefix: "schemagov:"}, client), mr
}

func stores(t *testing.T) map[string]FileStore {
	redisStore, _ := newTestRedisStore(t)
	return map[string]FileStore{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestFileStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		store := store
		t.Run(name+" store reads back what it wrote", func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "schemas/schema_1.0.0.json", []byte(`{"a":1}`)))

			data, err := store.Read(ctx, "schemas/schema_1.0.0.json")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(data))

			ok, err := store.Exists(ctx, "schemas/schema_1.0.0.json")
			require.NoError(t, err)
			assert.True(t, ok)
		})

		t.Run(name+" store overwrites existing files", func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "index.json", []byte("one")))
			require.NoError(t, store.Write(ctx, "index.json", []byte("two")))

			data, err := store.Read(ctx, "index.json")
			require.NoError(t, err)
			assert.Equal(t, "two", string(data))
		})

		t.Run(name+" store lists only direct children", func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "dir/b.json", []byte("b")))
			require.NoError(t, store.Write(ctx, "dir/a.json", []byte("a")))
			require.NoError(t, store.Write(ctx, "dir/nested/c.json", []byte("c")))

			names, err := store.List(ctx, "dir")
			require.NoError(t, err)
			assert.Equal(t, []string{"a.json", "b.json"}, names)
		})

		t.Run(name+" store lists a missing directory as empty", func(t *testing.T) {
			names, err := store.List(ctx, "nowhere")
			require.NoError(t, err)
			assert.Empty(t, names)
		})

		t.Run(name+" store reports missing files with ErrNotExist", func(t *testing.T) {
			_, err := store.Read(ctx, "missing.json")
			assert.ErrorIs(t, err, ErrNotExist)

			assert.ErrorIs(t, store.Delete(ctx, "missing.json"), ErrNotExist)

			ok, err := store.Exists(ctx, "missing.json")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(name+" store deletes files", func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "gone.json", []byte("x")))
			require.NoError(t, store.Delete(ctx, "gone.json"))

			ok, err := store.Exists(ctx, "gone.json")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("absolute paths bypass the root", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())
		other := filepath.Join(t.TempDir(), "backup", "index.json")

		require.NoError(t, store.Write(ctx, other, []byte("copy")))

		data, err := NewLocalStore("/").Read(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, "copy", string(data))
	})

	t.Run("relative paths cannot escape the root", func(t *testing.T) {
		root := t.TempDir()
		store := NewLocalStore(root)

		require.NoError(t, store.Write(ctx, "../../escape.json", []byte("x")))

		ok, err := store.Exists(ctx, "escape.json")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("writes leave no temporary files behind", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())
		require.NoError(t, store.Write(ctx, "a.json", []byte("a")))

		names, err := store.List(ctx, ".")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.json"}, names)
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("keys carry the configured prefix", func(t *testing.T) {
		store, mr := newTestRedisStore(t)
		require.NoError(t, store.Write(ctx, "registry_index.json", []byte("{}")))

		assert.Contains(t, mr.Keys(), "schemagov:registry_index.json")
	})

	t.Run("root listing ignores nested keys", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.NoError(t, store.Write(ctx, "top.json", []byte("1")))
		require.NoError(t, store.Write(ctx, "backups/x/top.json", []byte("2")))

		names, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"top.json"}, names)
	})

	t.Run("Ping reports a stopped server", func(t *testing.T) {
		store, mr := newTestRedisStore(t)
		require.NoError(t, store.Ping(ctx))

		mr.Close()
		assert.Error(t, store.Ping(ctx))
	})
}

func TestCopy(t *testing.T) {
	t.Run("Copy moves data between stores", func(t *testing.T) {
		ctx := context.Background()
		src := NewMemoryStore()
		dst := NewMemoryStore()
		require.NoError(t, src.Write(ctx, "a.json", []byte("a")))

		require.NoError(t, Copy(ctx, src, "a.json", dst, "backup/a.json"))

		assert.Equal(t, []string{"backup/a.json"}, dst.Paths())
	})
}
