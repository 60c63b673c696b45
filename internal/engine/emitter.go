package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
	"github.com/t77yq/statuswatch/internal/storage"
)

// DefaultDegradedThreshold is how long an entity must stay degraded
// before a warning event is emitted.
const DefaultDegradedThreshold = 5 * time.Minute

// Publisher pushes emitted events to the message bus. Publication is
// best-effort: the emitter logs failures and moves on.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.Event) error
}

// Emitter converts periodic scalar observations into a minimal stream
// of transition events, absorbing flapping via degraded hysteresis.
type Emitter struct {
	logger            *zap.Logger
	states            storage.AlertStateStorage
	events            storage.EventLogStorage
	publisher         Publisher
	degradedThreshold time.Duration
	now               func() time.Time
}

// NewEmitter creates an emitter. publisher may be nil.
func NewEmitter(logger *zap.Logger, states storage.AlertStateStorage, events storage.EventLogStorage, publisher Publisher) *Emitter {
	return &Emitter{
		logger:            logger.Named("emitter"),
		states:            states,
		events:            events,
		publisher:         publisher,
		degradedThreshold: DefaultDegradedThreshold,
		now:               time.Now,
	}
}

// SetDegradedThreshold overrides the degraded hysteresis window
func (e *Emitter) SetDegradedThreshold(d time.Duration) {
	if d > 0 {
		e.degradedThreshold = d
	}
}

// ProcessScalar runs one observation through the transition rules.
// It returns the emitted event, or nil when the observation was
// absorbed (first sighting, unchanged status, sub-threshold flap).
func (e *Emitter) ProcessScalar(ctx context.Context, source, entityType string, obs model.Scalar) (*model.Event, error) {
	now := e.now()

	prev, err := e.states.Get(ctx, entityType, obs.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert state: %w", err)
	}

	if obs.Status == model.StatusDegraded {
		if prev == nil || prev.LastStatus != string(model.StatusDegraded) {
			// Entering degraded starts the hysteresis timer; nothing
			// is reportable yet.
			err := e.states.Upsert(ctx, &model.AlertState{
				EntityType:  entityType,
				EntityID:    obs.EntityID,
				LastStatus:  string(model.StatusDegraded),
				LastChecked: now,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record degraded entry: %w", err)
			}
			return nil, nil
		}
		// LastChecked is deliberately not refreshed here, so elapsed
		// time accumulates across cycles.
		if now.Sub(prev.LastChecked) < e.degradedThreshold {
			return nil, nil
		}
	} else if prev != nil && prev.LastStatus == string(obs.Status) {
		return nil, nil
	}

	// A recovery is only reportable when an unresolved event exists to
	// close. A sub-threshold degraded flap recorded state but emitted
	// nothing, so its recovery emits nothing either.
	resolution := false
	if obs.Status == model.StatusOperational && prev != nil && isBadStatus(prev.LastStatus) {
		resolution, err = e.hasOpenBadEvent(ctx, source, obs.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to check open events: %w", err)
		}
	}

	if obs.Status == model.StatusOperational && !resolution {
		// First-ever sighting, or recovery from nothing worth
		// reporting. Record the status silently.
		err := e.states.Upsert(ctx, &model.AlertState{
			EntityType:  entityType,
			EntityID:    obs.EntityID,
			LastStatus:  string(model.StatusOperational),
			LastChecked: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record operational state: %w", err)
		}
		return nil, nil
	}

	event := e.buildEvent(source, obs, resolution, now)

	// Idempotency check on the natural key: an entity's condition
	// transitions through at most one unresolved event at a time.
	if !resolution {
		open, err := e.events.HasOpenEvent(ctx, source, obs.EntityID, event.EventType)
		if err != nil {
			return nil, fmt.Errorf("failed to check open events: %w", err)
		}
		if open {
			err := e.states.Upsert(ctx, &model.AlertState{
				EntityType:  entityType,
				EntityID:    obs.EntityID,
				LastStatus:  string(obs.Status),
				LastChecked: now,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update alert state: %w", err)
			}
			return nil, nil
		}
	}

	// Event write first, state update immediately after: a failed
	// state update risks one duplicate event next cycle, which is the
	// accepted bound.
	if err := e.events.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	if resolution {
		if err := e.events.MarkResolved(ctx, source, obs.EntityID, now); err != nil {
			e.logger.Error("Failed to mark prior events resolved",
				zap.String("source", source),
				zap.String("entity_id", obs.EntityID),
				zap.Error(err))
		}
	}

	err = e.states.Upsert(ctx, &model.AlertState{
		EntityType:  entityType,
		EntityID:    obs.EntityID,
		LastStatus:  string(obs.Status),
		LastChecked: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update alert state: %w", err)
	}

	e.publish(ctx, event)

	e.logger.Info("Event emitted",
		zap.String("source", source),
		zap.String("entity_id", obs.EntityID),
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)))

	return event, nil
}

func (e *Emitter) buildEvent(source string, obs model.Scalar, resolution bool, now time.Time) *model.Event {
	name := obs.EntityName
	if name == "" {
		name = obs.EntityID
	}

	event := &model.Event{
		ID:          uuid.New().String(),
		Source:      source,
		EntityID:    obs.EntityID,
		EntityName:  obs.EntityName,
		Description: obs.Detail,
		OccurredAt:  now,
		CreatedAt:   now,
	}

	switch {
	case resolution:
		event.EventType = model.EventTypeResolved
		event.Severity = model.EventSeverityInfo
		event.Title = fmt.Sprintf("%s has recovered", name)
		event.ResolvedAt = &now
	case obs.Status == model.StatusDegraded:
		event.EventType = model.EventTypeDegraded
		event.Severity = model.EventSeverityWarning
		event.Title = fmt.Sprintf("%s is degraded", name)
	default:
		event.EventType = model.EventTypeOutage
		event.Severity = model.EventSeverityCritical
		event.Title = fmt.Sprintf("%s is experiencing an outage", name)
	}
	return event
}

func (e *Emitter) hasOpenBadEvent(ctx context.Context, source, entityID string) (bool, error) {
	for _, eventType := range []model.EventType{model.EventTypeOutage, model.EventTypeDegraded} {
		open, err := e.events.HasOpenEvent(ctx, source, entityID, eventType)
		if err != nil {
			return false, err
		}
		if open {
			return true, nil
		}
	}
	return false, nil
}

func (e *Emitter) publish(ctx context.Context, event *model.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishEvent(ctx, event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// isBadStatus reports whether a stored status counts as a prior bad
// state for resolution purposes. unknown is bad: a collector that was
// timing out and now answers has genuinely recovered.
func isBadStatus(status string) bool {
	switch model.Status(status) {
	case model.StatusDegraded, model.StatusOutage, model.StatusUnknown:
		return true
	}
	return false
}
