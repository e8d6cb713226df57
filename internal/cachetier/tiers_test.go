package cachetier

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamily(t *testing.T) {
	tests := []struct {
		name     string
		wantBase string
		wantOK   bool
	}{
		{name: "shell-v1", wantBase: "shell", wantOK: true},
		{name: "offlinesync-static-v12", wantBase: "offlinesync-static", wantOK: true},
		{name: "app-dynamic-v1.2", wantBase: "app-dynamic", wantOK: true},
		{name: "thirdparty-cache", wantOK: false},
		{name: "shell-v", wantOK: false},
		{name: "-v1", wantOK: false},
		{name: "shell-vnext", wantOK: false},
	}
	for _, tt := range tests {
		base, ok := Family(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		assert.Equal(t, tt.wantBase, base, tt.name)
	}
}

func TestNamesFor(t *testing.T) {
	names := NamesFor("app-", "v3")
	assert.Equal(t, Names{Shell: "app-shell-v3", Static: "app-static-v3", Dynamic: "app-dynamic-v3"}, names)
}

func TestPurgeStaleKeepsCurrentAndForeignCaches(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	for _, name := range []string{"shell-v1", "shell-v2", "static-v1", "thirdparty-cache"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	m := NewManager(storage, Names{Shell: "shell-v2", Static: "static-v1", Dynamic: "dynamic-v1"})
	deleted, err := m.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shell-v1"}, deleted)

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shell-v2", "static-v1", "thirdparty-cache"}, names)
}

func TestDiscardNeverDeletesCurrentCaches(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	for _, name := range []string{"shell-v1", "static-v1", "dynamic-v1", "shell-v2"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}
	m := NewManager(storage, NamesFor("", "1"))

	require.NoError(t, m.Discard(ctx, NamesFor("", "2")))
	require.NoError(t, m.Discard(ctx, NamesFor("", "1")))

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dynamic-v1", "shell-v1", "static-v1"}, names)
}

func TestManagerRoutesToCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStorage(), NamesFor("", "1"))
	key := RequestKey(http.MethodGet, "http://app.local/")
	require.NoError(t, m.Put(ctx, Shell, key, Snapshot{Status: 200, Body: []byte("v1 shell")}))

	m.SetNames(NamesFor("", "2"))
	_, ok, err := m.Match(ctx, Shell, key)
	require.NoError(t, err)
	assert.False(t, ok, "a new generation starts empty")

	deleted, err := m.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shell-v1"}, deleted)
}

func TestSnapshotResponseIsReusable(t *testing.T) {
	snap := Snapshot{Status: 200, Header: http.Header{"Content-Type": {"text/plain"}}, Body: []byte("hello")}
	for i := 0; i < 2; i++ {
		resp := snap.Response(nil)
		buf := new(strings.Builder)
		_, err := io.Copy(buf, resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", buf.String())
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		assert.Equal(t, int64(5), resp.ContentLength)
	}
}

func storageBackends(t *testing.T) map[string]Storage {
	t.Helper()
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "caches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	backends := map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
	if url := strings.TrimSpace(os.Getenv("OFFLINESYNC_TEST_REDIS_URL")); url != "" {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		prefix := "offlinesync-test-" + time.Now().Format("150405.000000") + ":"
		backends["redis"] = NewRedisStorage(redis.NewClient(opts), prefix)
	}
	return backends
}

func TestStorageContract(t *testing.T) {
	for name, storage := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			has, err := storage.Has(ctx, "static-v1")
			require.NoError(t, err)
			assert.False(t, has)

			c, err := storage.Open(ctx, "static-v1")
			require.NoError(t, err)
			has, err = storage.Has(ctx, "static-v1")
			require.NoError(t, err)
			assert.True(t, has)

			stored := Snapshot{
				Status:   200,
				Header:   http.Header{"Content-Type": {"text/css"}},
				Body:     []byte("body{}"),
				StoredAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			}
			key := RequestKey(http.MethodGet, "http://app.local/static/app.css")
			require.NoError(t, c.Put(ctx, key, stored))

			got, ok, err := c.Match(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, stored.Status, got.Status)
			assert.Equal(t, stored.Body, got.Body)
			assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
			assert.True(t, stored.StoredAt.Equal(got.StoredAt))

			_, ok, err = c.Match(ctx, RequestKey(http.MethodPost, "http://app.local/static/app.css"))
			require.NoError(t, err)
			assert.False(t, ok, "method is part of the key")

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{key}, keys)

			removed, err := c.Delete(ctx, key)
			require.NoError(t, err)
			assert.True(t, removed)

			deleted, err := storage.Delete(ctx, "static-v1")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = storage.Delete(ctx, "static-v1")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestBuildStorageFromDSN(t *testing.T) {
	storage, err := BuildStorageFromDSN("memory://")
	require.NoError(t, err)
	assert.IsType(t, &memoryStorage{}, storage)

	storage, err = BuildStorageFromDSN("sqlite://" + filepath.Join(t.TempDir(), "caches.db"))
	require.NoError(t, err)
	assert.IsType(t, &sqliteStorage{}, storage)
	require.NoError(t, storage.Close())

	storage, err = BuildStorageFromDSN("redis://127.0.0.1:6379/2?prefix=agent:")
	require.NoError(t, err)
	rs, ok := storage.(*redisStorage)
	require.True(t, ok)
	assert.Equal(t, "agent:", rs.prefix)
	require.NoError(t, storage.Close())

	_, err = BuildStorageFromDSN("postgres://localhost/db")
	assert.ErrorIs(t, err, ErrNotImplemented)
}
