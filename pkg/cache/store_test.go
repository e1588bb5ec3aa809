package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/config"
)

func sampleEntry(key string) Entry {
	return Entry{
		Key:       key,
		Model:     "openai/gpt-4o",
		System:    "You are answering questions as if you were a human.",
		Prompt:    "What is your favorite color?",
		Params:    map[string]any{"temperature": 0.5},
		Iteration: 2,
		Answer:    "blue",
		Comment:   "It is calm.",
		Raw:       json.RawMessage(`{"id":"resp_1"}`),
		CreatedAt: time.UnixMilli(1700000000000).UTC(),
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	wrote, err := store.PutIfAbsent(ctx, sampleEntry("k1"))
	require.NoError(t, err)
	assert.True(t, wrote)

	second := sampleEntry("k1")
	second.Answer = "red"
	wrote, err = store.PutIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, wrote, "existing entries are never overwritten")

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "blue", got.Answer)
	assert.Equal(t, "It is calm.", got.Comment)
	assert.Equal(t, 2, got.Iteration)
	assert.EqualValues(t, 0.5, got.Params["temperature"])
	assert.JSONEq(t, `{"id":"resp_1"}`, string(got.Raw))
	assert.True(t, got.CreatedAt.Equal(sampleEntry("k1").CreatedAt))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestSQLiteStoreInMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.PutIfAbsent(context.Background(), sampleEntry("k"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "blue", got.Answer)
}

func TestSQLiteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/x.db?mode=memory", "", false},
		{"file:/tmp/x.db", "/tmp/x.db", true},
		{"/var/lib/edsl/cache.db", "/var/lib/edsl/cache.db", true},
		{"postgres://host/db", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			path, onDisk := sqliteFilePathFromDSN(tt.dsn)
			assert.Equal(t, tt.onDisk, onDisk)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("EDSL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EDSL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Prefix: "edsl:test:" + time.Now().Format("150405.000000") + ":", TTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("EDSL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("EDSL_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	store, err := NewMongoStore(ctx, MongoOptions{URI: uri, Database: "edsl_test", Collection: "cache_" + time.Now().Format("150405000000")})
	require.NoError(t, err)
	defer func() {
		_ = store.collection.Drop(ctx)
		_ = store.Close()
	}()

	exerciseStore(t, store)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, store, "memory backend has no persisted store")

	cfg.Cache.Backend = config.CacheBackendSQLite
	cfg.Cache.DSN = filepath.Join(t.TempDir(), "cache.db")
	store, err = Open(ctx, cfg)
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	cfg.Cache.Backend = "etcd"
	_, err = Open(ctx, cfg)
	require.Error(t, err)
}

func TestOpenOrMemoryFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Cache.Redis.Addr = "127.0.0.1:1"

	c := OpenOrMemory(context.Background(), cfg, Options{})
	require.NotNil(t, c)

	_, _, err := c.Fetch(context.Background(), "k", func(context.Context) (Entry, error) {
		return Entry{Answer: "ok"}, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Stats().StoreErrors)
}
