package cache

import (
	"context"
	"time"
)

// Tier is a namespaced view of a Store with a fixed TTL. Two tiers are
// layered on the same store: a long tier bounding upstream collector
// calls and a short tier bounding API response recomputation.
type Tier struct {
	store     Store
	namespace string
	source    string
	ttl       time.Duration
}

// NewTier creates a tier over a store
func NewTier(store Store, namespace, source string, ttl time.Duration) *Tier {
	return &Tier{store: store, namespace: namespace, source: source, ttl: ttl}
}

// NewLongTier creates the collector-side tier (minutes)
func NewLongTier(store Store, source string, ttl time.Duration) *Tier {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return NewTier(store, "collector", source, ttl)
}

// NewShortTier creates the API-response tier (seconds)
func NewShortTier(store Store, ttl time.Duration) *Tier {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return NewTier(store, "api", "api", ttl)
}

func (t *Tier) key(key string) string {
	return t.namespace + ":" + key
}

// Get returns the cached payload for a key within this tier
func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool) {
	return t.store.Get(ctx, t.key(key))
}

// Set stores a payload under a key within this tier
func (t *Tier) Set(ctx context.Context, key string, payload []byte) {
	t.store.Set(ctx, t.key(key), t.source, payload, t.ttl)
}

// Invalidate evicts every key in this tier's namespace, used by write
// paths that know the cached responses are now stale.
func (t *Tier) Invalidate(ctx context.Context) error {
	return t.store.InvalidatePrefix(ctx, t.namespace+":")
}

// Do returns the cached payload for key, or runs compute and caches its
// result. A burst of callers inside one TTL window costs one compute.
// Compute failures are not cached.
func (t *Tier) Do(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if payload, ok := t.Get(ctx, key); ok {
		return payload, nil
	}

	payload, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	t.Set(ctx, key, payload)
	return payload, nil
}
