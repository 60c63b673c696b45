package collector

import (
	"context"

	"github.com/t77yq/statuswatch/internal/model"
)

// ScalarCollector produces one scalar observation per cycle for a
// single-status entity. Collectors must be safe to call repeatedly;
// callers bound each invocation with a timeout.
type ScalarCollector interface {
	// Name identifies the collector in logs and cache keys
	Name() string

	// EntityType is the alert-state namespace this collector feeds
	EntityType() string

	// Collect returns the current observation. A collector should
	// report reachability problems as an outage/unknown observation
	// rather than an error where it can; an error is treated by the
	// runner as an unknown observation for the collector's entity.
	Collect(ctx context.Context) (model.Scalar, error)
}

// IncidentCollector produces the current list of open members for a
// set-valued source (cloud incidents, productivity-suite issues).
type IncidentCollector interface {
	// Name identifies the collector in logs and cache keys
	Name() string

	// EntityType is the tracking-row namespace this collector feeds
	EntityType() string

	// Collect returns the currently open incidents
	Collect(ctx context.Context) ([]model.Incident, error)
}

// IncidentFunc adapts a fetch function to IncidentCollector. Used for
// sources whose feed parsing lives outside this module.
type IncidentFunc struct {
	SourceName string
	Type       string
	Fetch      func(ctx context.Context) ([]model.Incident, error)
}

func (f *IncidentFunc) Name() string       { return f.SourceName }
func (f *IncidentFunc) EntityType() string { return f.Type }

func (f *IncidentFunc) Collect(ctx context.Context) ([]model.Incident, error) {
	return f.Fetch(ctx)
}
