package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus instruments for the collection cycles
type Metrics struct {
	CollectorRuns *prometheus.CounterVec
	EventsEmitted *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
}

// New creates and registers the cycle metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CollectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_collector_runs_total",
			Help: "Collector invocations by source and result",
		}, []string{"source", "result"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_events_emitted_total",
			Help: "Events emitted by severity and type",
		}, []string{"severity", "event_type"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_cache_requests_total",
			Help: "Cache lookups by tier and outcome",
		}, []string{"tier", "outcome"}),
	}
	reg.MustRegister(m.CollectorRuns, m.EventsEmitted, m.CacheHits)
	return m
}

// RegisterDBGauges exposes live counts straight from the database
func RegisterDBGauges(reg prometheus.Registerer, db *sql.DB, logger *zap.Logger) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "statuswatch_events_unresolved",
			Help: "Unresolved non-info events",
		},
		func() float64 {
			return queryCount(db, logger,
				"SELECT COUNT(*) FROM events WHERE resolved_at IS NULL AND severity != 'info'")
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "statuswatch_entities_tracked",
			Help: "Rows in the alert state table",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM alert_state")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		logger.Warn("Metrics query failed", zap.Error(err))
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
