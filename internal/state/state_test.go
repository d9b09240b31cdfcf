package state_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stepflow/internal/config"
	"github.com/kode4food/stepflow/internal/state"
)

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) state.Store{
		"memory": func(*testing.T) state.Store {
			return state.NewMemoryStore()
		},
		"redis": func(t *testing.T) state.Store {
			server := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: server.Addr()})
			return state.NewRedisStore(client, "test")
		},
		"blob": func(t *testing.T) state.Store {
			s, err := state.OpenBlobStore(
				context.Background(), "mem://", "state/",
			)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) state.Store {
			db, err := sql.Open("sqlite", ":memory:")
			require.NoError(t, err)
			s, err := state.NewSQLiteStore(context.Background(), db)
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer func() { assert.NoError(t, s.Close()) }()
			testStore(t, s)
		})
	}
}

func testStore(t *testing.T, s state.Store) {
	ctx := context.Background()

	t.Run("missing_key_is_nil", func(t *testing.T) {
		v, err := s.Get(ctx, "trace-0", "nope")
		assert.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("set_get_overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "trace-1", "k", raw(`{"a":1}`)))
		v, err := s.Get(ctx, "trace-1", "k")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(v))

		require.NoError(t, s.Set(ctx, "trace-1", "k", raw(`[1,2]`)))
		v, err = s.Get(ctx, "trace-1", "k")
		require.NoError(t, err)
		assert.JSONEq(t, `[1,2]`, string(v))
	})

	t.Run("scoped_by_trace", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "trace-a", "k", raw(`"a"`)))
		require.NoError(t, s.Set(ctx, "trace-b", "k", raw(`"b"`)))

		v, err := s.Get(ctx, "trace-a", "k")
		require.NoError(t, err)
		assert.JSONEq(t, `"a"`, string(v))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "trace-2", "k", raw(`true`)))
		require.NoError(t, s.Delete(ctx, "trace-2", "k"))
		require.NoError(t, s.Delete(ctx, "trace-2", "k"))

		v, err := s.Get(ctx, "trace-2", "k")
		assert.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "trace-3", "x", raw(`1`)))
		require.NoError(t, s.Set(ctx, "trace-3", "y", raw(`2`)))
		require.NoError(t, s.Set(ctx, "trace-4", "x", raw(`3`)))
		require.NoError(t, s.Clear(ctx, "trace-3"))

		for _, key := range []string{"x", "y"} {
			v, err := s.Get(ctx, "trace-3", key)
			assert.NoError(t, err)
			assert.Nil(t, v)
		}
		v, err := s.Get(ctx, "trace-4", "x")
		assert.NoError(t, err)
		assert.JSONEq(t, `3`, string(v))
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Go(func() {
				key := string(rune('a' + i))
				assert.NoError(t, s.Set(ctx, "trace-5", key, raw(`1`)))
				_, err := s.Get(ctx, "trace-5", key)
				assert.NoError(t, err)
			})
		}
		wg.Wait()
	})
}

func TestMemorySnapshot(t *testing.T) {
	s := state.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "t", "k", raw(`1`)))

	snap := s.Snapshot("t")
	assert.Len(t, snap, 1)
	assert.JSONEq(t, `1`, string(snap["k"]))
	assert.Nil(t, s.Snapshot("other"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := state.Open(ctx, config.NewDefaultConfig().State)
		require.NoError(t, err)
		assert.IsType(t, &state.MemoryStore{}, s)
	})

	t.Run("redis", func(t *testing.T) {
		server := miniredis.RunT(t)
		cfg := config.NewDefaultConfig().State
		cfg.Adapter = config.StateAdapterRedis
		cfg.RedisAddr = server.Addr()

		s, err := state.Open(ctx, cfg)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Set(ctx, "t", "k", raw(`1`)))
		assert.True(t, server.Exists(config.DefaultRedisPrefix+":state:t"))
	})

	t.Run("blob_directory", func(t *testing.T) {
		cfg := config.NewDefaultConfig().State
		cfg.Adapter = config.StateAdapterBlob
		cfg.BucketURL = "file://" + filepath.ToSlash(t.TempDir())

		s, err := state.Open(ctx, cfg)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Set(ctx, "t", "k", raw(`1`)))
		v, err := s.Get(ctx, "t", "k")
		require.NoError(t, err)
		assert.JSONEq(t, `1`, string(v))
	})

	t.Run("sqlite_file", func(t *testing.T) {
		cfg := config.NewDefaultConfig().State
		cfg.Adapter = config.StateAdapterSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "state.db")

		s, err := state.Open(ctx, cfg)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Set(ctx, "t", "k", raw(`1`)))
	})

	t.Run("invalid", func(t *testing.T) {
		cfg := config.NewDefaultConfig().State
		cfg.Adapter = "etcd"
		_, err := state.Open(ctx, cfg)
		assert.ErrorIs(t, err, config.ErrInvalidStateAdapter)
	})
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}
