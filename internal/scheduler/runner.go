package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/cache"
	"github.com/t77yq/statuswatch/internal/collector"
	"github.com/t77yq/statuswatch/internal/engine"
	"github.com/t77yq/statuswatch/internal/metrics"
	"github.com/t77yq/statuswatch/internal/model"
)

// DefaultCollectTimeout bounds a single collector invocation
const DefaultCollectTimeout = 10 * time.Second

// ScalarJob binds a scalar collector to the source label its events
// carry in the event log.
type ScalarJob struct {
	Source    string
	Collector collector.ScalarCollector
}

// IncidentJob binds an incident collector to its source label
type IncidentJob struct {
	Source    string
	Collector collector.IncidentCollector
}

// Group is a named set of collectors evaluated together on one cadence
type Group struct {
	Name      string
	Schedule  string
	Timeout   time.Duration
	Scalars   []ScalarJob
	Incidents []IncidentJob
}

// Runner dispatches collector groups on cron cadences. Within one
// cycle collectors run concurrently; they touch disjoint entity keys,
// and cron serializes successive runs of the same group, so no
// per-entity locking is needed. One collector's failure never aborts
// its siblings.
type Runner struct {
	logger    *zap.Logger
	cron      *cron.Cron
	emitter   *engine.Emitter
	differ    *engine.Differ
	metrics   *metrics.Metrics
	responses *cache.Tier
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewRunner creates a runner
func NewRunner(logger *zap.Logger, emitter *engine.Emitter, differ *engine.Differ, m *metrics.Metrics) *Runner {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &Runner{
		logger: logger.Named("runner"),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
		emitter: emitter,
		differ:  differ,
		metrics: m,
	}
}

// SetResponseCache hands the runner the API response tier so it can
// evict stale cached responses as soon as a cycle emits events, ahead
// of natural TTL expiry.
func (r *Runner) SetResponseCache(tier *cache.Tier) {
	r.responses = tier
}

// AddGroup registers a collector group on its cadence
func (r *Runner) AddGroup(ctx context.Context, group Group) error {
	if group.Timeout <= 0 {
		group.Timeout = DefaultCollectTimeout
	}
	_, err := r.cron.AddFunc(group.Schedule, func() {
		r.RunGroup(ctx, group)
	})
	if err != nil {
		return fmt.Errorf("failed to add group %s: %w", group.Name, err)
	}
	r.logger.Info("Registered collector group",
		zap.String("group", group.Name),
		zap.String("schedule", group.Schedule),
		zap.Int("scalars", len(group.Scalars)),
		zap.Int("incidents", len(group.Incidents)))
	return nil
}

// AddJob registers an arbitrary maintenance job on a cadence
func (r *Runner) AddJob(name, schedule string, job func()) error {
	if _, err := r.cron.AddFunc(schedule, job); err != nil {
		return fmt.Errorf("failed to add job %s: %w", name, err)
	}
	r.logger.Info("Registered job",
		zap.String("job", name),
		zap.String("schedule", schedule))
	return nil
}

// Start starts the cron dispatcher
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops the dispatcher and waits for running jobs to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunGroup evaluates every collector in the group once. It is also the
// entry point for tests and for forced refreshes.
func (r *Runner) RunGroup(ctx context.Context, group Group) {
	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed, emitted := 0, 0, 0

	record := func(source string, count int, err error) {
		mu.Lock()
		defer mu.Unlock()
		emitted += count
		if err != nil {
			failed++
			r.metricResult(source, "error")
			return
		}
		succeeded++
		r.metricResult(source, "ok")
	}

	for _, job := range group.Scalars {
		wg.Add(1)
		go func(job ScalarJob) {
			defer wg.Done()
			count, err := r.runScalar(ctx, group.Timeout, job)
			record(job.Source, count, err)
		}(job)
	}

	for _, job := range group.Incidents {
		wg.Add(1)
		go func(job IncidentJob) {
			defer wg.Done()
			count, err := r.runIncidents(ctx, group.Timeout, job)
			record(job.Source, count, err)
		}(job)
	}

	wg.Wait()

	if emitted > 0 && r.responses != nil {
		if err := r.responses.Invalidate(ctx); err != nil {
			r.logger.Warn("Failed to evict response cache", zap.Error(err))
		}
	}

	r.logger.Info("Cycle complete",
		zap.String("group", group.Name),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("emitted", emitted),
		zap.Duration("elapsed", time.Since(start)))
}

func (r *Runner) runScalar(ctx context.Context, timeout time.Duration, job ScalarJob) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	obs, err := job.Collector.Collect(cctx)
	if err != nil {
		// A collector error is itself a signal: feed an unknown
		// observation for the entity rather than silently skipping,
		// as long as the collector identified it.
		if obs.EntityID == "" {
			r.logger.Error("Collector failed without an entity",
				zap.String("collector", job.Collector.Name()),
				zap.Error(err))
			return 0, err
		}
		r.logger.Warn("Collector failed, recording unknown status",
			zap.String("collector", job.Collector.Name()),
			zap.Error(err))
		obs.Status = model.StatusUnknown
		obs.Detail = err.Error()
	}

	event, err := r.emitter.ProcessScalar(ctx, job.Source, job.Collector.EntityType(), obs)
	if err != nil {
		r.logger.Error("Failed to process observation",
			zap.String("collector", job.Collector.Name()),
			zap.String("entity_id", obs.EntityID),
			zap.Error(err))
		return 0, err
	}
	if event == nil {
		return 0, nil
	}
	r.metricEvent(event)
	return 1, nil
}

func (r *Runner) runIncidents(ctx context.Context, timeout time.Duration, job IncidentJob) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	incidents, err := job.Collector.Collect(cctx)
	if err != nil {
		// An unreachable incident feed must not be mistaken for an
		// empty one: diffing nothing would mass-resolve every
		// tracked incident.
		r.logger.Error("Incident collector failed, skipping diff",
			zap.String("collector", job.Collector.Name()),
			zap.Error(err))
		return 0, err
	}

	events, err := r.differ.ProcessIncidents(ctx, job.Source, job.Collector.EntityType(), incidents)
	if err != nil {
		r.logger.Error("Failed to diff incidents",
			zap.String("collector", job.Collector.Name()),
			zap.Error(err))
		return 0, err
	}
	for _, event := range events {
		r.metricEvent(event)
	}
	return len(events), nil
}

func (r *Runner) metricResult(source, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.CollectorRuns.WithLabelValues(source, result).Inc()
}

func (r *Runner) metricEvent(event *model.Event) {
	if r.metrics == nil {
		return
	}
	r.metrics.EventsEmitted.WithLabelValues(string(event.Severity), string(event.EventType)).Inc()
}
