package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/cache"
	"github.com/t77yq/statuswatch/internal/storage"
)

// DefaultRetention is how long events and alert states are kept
const DefaultRetention = 30 * 24 * time.Hour

// Sweeper deletes aged-out events, expired cache rows and stale alert
// states. It is scheduled daily by the runner; each delete is
// independent so one failure never blocks the others.
type Sweeper struct {
	logger    *zap.Logger
	events    storage.EventLogStorage
	states    storage.AlertStateStorage
	cache     cache.Store
	retention time.Duration
}

// NewSweeper creates a retention sweeper
func NewSweeper(logger *zap.Logger, events storage.EventLogStorage, states storage.AlertStateStorage, cacheStore cache.Store, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		logger:    logger.Named("sweeper"),
		events:    events,
		states:    states,
		cache:     cacheStore,
		retention: retention,
	}
}

// Run performs one sweep
func (s *Sweeper) Run(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-s.retention)

	deletedEvents, err := s.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to delete old events", zap.Error(err))
	}

	expiredEvents, err := s.events.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Error("Failed to delete expired events", zap.Error(err))
	}

	deletedStates, err := s.states.DeleteCheckedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to delete stale alert states", zap.Error(err))
	}

	expiredCache, err := s.cache.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Error("Failed to delete expired cache entries", zap.Error(err))
	}

	s.logger.Info("Retention sweep complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("events_deleted", deletedEvents),
		zap.Int64("events_expired", expiredEvents),
		zap.Int64("states_deleted", deletedStates),
		zap.Int64("cache_expired", expiredCache))
}
