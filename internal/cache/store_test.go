package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(logger, db)
	require.NoError(t, err)
	return store
}

func TestStore_SetGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Test case 1: Miss on an unknown key
	_, ok := store.Get(ctx, "missing")
	require.False(t, ok)

	// Test case 2: Hit within TTL
	store.Set(ctx, "svc:github", "http-check", []byte(`{"status":"operational"}`), time.Minute)
	payload, ok := store.Get(ctx, "svc:github")
	require.True(t, ok)
	require.JSONEq(t, `{"status":"operational"}`, string(payload))

	// Test case 3: Overwrite keeps a single row per key
	store.Set(ctx, "svc:github", "http-check", []byte(`{"status":"degraded"}`), time.Minute)
	payload, ok = store.Get(ctx, "svc:github")
	require.True(t, ok)
	require.JSONEq(t, `{"status":"degraded"}`, string(payload))
}

func TestStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	store.Set(ctx, "svc:npm", "http-check", []byte(`"ok"`), 30*time.Second)

	// Retrievable before the TTL elapses
	_, ok := store.Get(ctx, "svc:npm")
	require.True(t, ok)

	// Absent after, and the row is removed on encounter
	store.now = func() time.Time { return now.Add(31 * time.Second) }
	_, ok = store.Get(ctx, "svc:npm")
	require.False(t, ok)

	store.now = func() time.Time { return now }
	_, ok = store.Get(ctx, "svc:npm")
	require.False(t, ok, "expired row should have been deleted")
}

func TestStore_NegativeTTLClamped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// expires_at must never precede fetched_at
	store.Set(ctx, "svc:x", "test", []byte(`1`), -time.Hour)
	_, ok := store.Get(ctx, "svc:x")
	require.False(t, ok)
}

func TestStore_InvalidatePrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "api:events", "api", []byte(`1`), time.Minute)
	store.Set(ctx, "api:status", "api", []byte(`2`), time.Minute)
	store.Set(ctx, "collector:github", "http-check", []byte(`3`), time.Minute)

	require.NoError(t, store.InvalidatePrefix(ctx, "api:"))

	_, ok := store.Get(ctx, "api:events")
	require.False(t, ok)
	_, ok = store.Get(ctx, "api:status")
	require.False(t, ok)
	_, ok = store.Get(ctx, "collector:github")
	require.True(t, ok, "other namespaces must survive pattern invalidation")
}

func TestStore_DeleteExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	store.Set(ctx, "a", "test", []byte(`1`), 10*time.Second)
	store.Set(ctx, "b", "test", []byte(`2`), 10*time.Minute)

	deleted, err := store.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, ok := store.Get(ctx, "b")
	require.True(t, ok)
}

func TestTier_Do(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tier := NewShortTier(store, time.Minute)

	// Test case 1: Burst of callers costs one compute
	computed := 0
	compute := func(context.Context) ([]byte, error) {
		computed++
		return []byte(`{"n":1}`), nil
	}
	for i := 0; i < 5; i++ {
		payload, err := tier.Do(ctx, "events", compute)
		require.NoError(t, err)
		require.JSONEq(t, `{"n":1}`, string(payload))
	}
	require.Equal(t, 1, computed)

	// Test case 2: Invalidation forces a recompute
	require.NoError(t, tier.Invalidate(ctx))
	_, err := tier.Do(ctx, "events", compute)
	require.NoError(t, err)
	require.Equal(t, 2, computed)
}

func TestTier_Namespacing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := NewLongTier(store, "http-check", 10*time.Minute)
	short := NewShortTier(store, time.Minute)

	long.Set(ctx, "github", []byte(`"long"`))
	short.Set(ctx, "github", []byte(`"short"`))

	payload, ok := long.Get(ctx, "github")
	require.True(t, ok)
	require.Equal(t, `"long"`, string(payload))

	payload, ok = short.Get(ctx, "github")
	require.True(t, ok)
	require.Equal(t, `"short"`, string(payload))

	// Evicting the short tier leaves the long tier intact
	require.NoError(t, short.Invalidate(ctx))
	_, ok = long.Get(ctx, "github")
	require.True(t, ok)
}
