package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/t77yq/statuswatch/internal/cache"
	"github.com/t77yq/statuswatch/internal/metrics"
	"github.com/t77yq/statuswatch/internal/model"
)

// CachedScalar wraps a ScalarCollector with the long cache tier so
// repeated invocations inside one TTL window cost a single upstream
// call. Cache failures fall through to the wrapped collector.
type CachedScalar struct {
	inner   ScalarCollector
	tier    *cache.Tier
	metrics *metrics.Metrics
}

// NewCachedScalar wraps a scalar collector with a cache tier. m may be
// nil.
func NewCachedScalar(inner ScalarCollector, tier *cache.Tier, m *metrics.Metrics) *CachedScalar {
	return &CachedScalar{inner: inner, tier: tier, metrics: m}
}

// Name implements ScalarCollector.Name
func (c *CachedScalar) Name() string { return c.inner.Name() }

// EntityType implements ScalarCollector.EntityType
func (c *CachedScalar) EntityType() string { return c.inner.EntityType() }

// Collect implements ScalarCollector.Collect
func (c *CachedScalar) Collect(ctx context.Context) (model.Scalar, error) {
	if payload, ok := c.tier.Get(ctx, c.inner.Name()); ok {
		var obs model.Scalar
		if err := json.Unmarshal(payload, &obs); err == nil {
			recordCacheOutcome(c.metrics, "hit")
			return obs, nil
		}
		// Corrupt entry: fall through and refetch.
	}
	recordCacheOutcome(c.metrics, "miss")

	obs, err := c.inner.Collect(ctx)
	if err != nil {
		return obs, err
	}

	if payload, err := json.Marshal(obs); err == nil {
		c.tier.Set(ctx, c.inner.Name(), payload)
	}
	return obs, nil
}

// CachedIncidents wraps an IncidentCollector with the long cache tier
type CachedIncidents struct {
	inner   IncidentCollector
	tier    *cache.Tier
	metrics *metrics.Metrics
}

// NewCachedIncidents wraps an incident collector with a cache tier. m
// may be nil.
func NewCachedIncidents(inner IncidentCollector, tier *cache.Tier, m *metrics.Metrics) *CachedIncidents {
	return &CachedIncidents{inner: inner, tier: tier, metrics: m}
}

// Name implements IncidentCollector.Name
func (c *CachedIncidents) Name() string { return c.inner.Name() }

// EntityType implements IncidentCollector.EntityType
func (c *CachedIncidents) EntityType() string { return c.inner.EntityType() }

// Collect implements IncidentCollector.Collect
func (c *CachedIncidents) Collect(ctx context.Context) ([]model.Incident, error) {
	if payload, ok := c.tier.Get(ctx, c.inner.Name()); ok {
		var incidents []model.Incident
		if err := json.Unmarshal(payload, &incidents); err == nil {
			recordCacheOutcome(c.metrics, "hit")
			return incidents, nil
		}
	}
	recordCacheOutcome(c.metrics, "miss")

	incidents, err := c.inner.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.inner.Name(), err)
	}

	if payload, err := json.Marshal(incidents); err == nil {
		c.tier.Set(ctx, c.inner.Name(), payload)
	}
	return incidents, nil
}

func recordCacheOutcome(m *metrics.Metrics, outcome string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues("long", outcome).Inc()
}
