package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
	"github.com/t77yq/statuswatch/internal/storage"
)

// Differ tracks set-valued sources (incident lists, issue lists) and
// emits exactly one started/resolved event per member transition.
// Tracking rows live in the alert state table, one row per open member,
// scoped per source: two sources sharing an entity type must never see
// each other's tracked members as gone.
type Differ struct {
	logger    *zap.Logger
	states    storage.AlertStateStorage
	events    storage.EventLogStorage
	publisher Publisher
	now       func() time.Time
}

// NewDiffer creates a differ. publisher may be nil.
func NewDiffer(logger *zap.Logger, states storage.AlertStateStorage, events storage.EventLogStorage, publisher Publisher) *Differ {
	return &Differ{
		logger:    logger.Named("differ"),
		states:    states,
		events:    events,
		publisher: publisher,
		now:       time.Now,
	}
}

// IncidentIdentity returns the stable identity for an incident: the
// native ID when the source provides one, otherwise a content hash of
// (title, startTime). The hash makes identity insensitive to cosmetic
// re-fetches while distinguishing concurrent incidents that share a
// title. Two genuinely distinct incidents with identical title and
// start time would collide; this is a documented limitation.
func IncidentIdentity(inc model.Incident) string {
	if inc.ID != "" {
		return inc.ID
	}
	h := sha256.Sum256([]byte(inc.Title + "|" + inc.StartTime.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h[:8])
}

// TrackingType is the alert-state entity type holding a source's
// tracking rows. The source is part of the key so each source diffs
// only against its own members.
func TrackingType(entityType, source string) string {
	return entityType + "/" + source
}

// ProcessIncidents diffs the current member set against the tracked
// set and emits one event per appearing or disappearing member.
// Per-member failures are logged and skipped so one bad member never
// aborts its siblings; a skipped member is retried next cycle.
func (d *Differ) ProcessIncidents(ctx context.Context, source, entityType string, incidents []model.Incident) ([]*model.Event, error) {
	now := d.now()
	trackingType := TrackingType(entityType, source)

	previous, err := d.states.ListIDs(ctx, trackingType)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked incidents: %w", err)
	}
	tracked := make(map[string]bool, len(previous))
	for _, id := range previous {
		tracked[id] = true
	}

	current := make(map[string]model.Incident, len(incidents))
	for _, inc := range incidents {
		current[IncidentIdentity(inc)] = inc
	}

	var emitted []*model.Event

	for id, inc := range current {
		if tracked[id] {
			continue
		}
		event := d.startedEvent(source, id, inc, now)
		if err := d.events.Insert(ctx, event); err != nil {
			d.logger.Error("Failed to insert started event",
				zap.String("source", source),
				zap.String("incident_id", id),
				zap.Error(err))
			continue
		}
		err := d.states.Upsert(ctx, &model.AlertState{
			EntityType:  trackingType,
			EntityID:    id,
			LastStatus:  string(event.Severity),
			LastChecked: now,
		})
		if err != nil {
			d.logger.Error("Failed to create tracking row",
				zap.String("source", source),
				zap.String("incident_id", id),
				zap.Error(err))
			continue
		}
		d.publish(ctx, event)
		emitted = append(emitted, event)
	}

	for _, id := range previous {
		if _, stillOpen := current[id]; stillOpen {
			continue
		}
		event := d.resolvedEvent(source, id, now)
		if err := d.events.Insert(ctx, event); err != nil {
			d.logger.Error("Failed to insert resolved event",
				zap.String("source", source),
				zap.String("incident_id", id),
				zap.Error(err))
			continue
		}
		if err := d.events.MarkResolved(ctx, source, id, now); err != nil {
			d.logger.Error("Failed to mark incident events resolved",
				zap.String("source", source),
				zap.String("incident_id", id),
				zap.Error(err))
		}
		if err := d.states.Delete(ctx, trackingType, id); err != nil {
			d.logger.Error("Failed to delete tracking row",
				zap.String("source", source),
				zap.String("incident_id", id),
				zap.Error(err))
			continue
		}
		d.publish(ctx, event)
		emitted = append(emitted, event)
	}

	if len(emitted) > 0 {
		d.logger.Info("Incident diff complete",
			zap.String("source", source),
			zap.Int("current", len(current)),
			zap.Int("tracked", len(previous)),
			zap.Int("emitted", len(emitted)))
	}

	return emitted, nil
}

func (d *Differ) startedEvent(source, id string, inc model.Incident, now time.Time) *model.Event {
	severity := model.EventSeverityWarning
	if inc.Severity == model.EventSeverityCritical {
		severity = model.EventSeverityCritical
	}
	occurred := inc.StartTime
	if occurred.IsZero() {
		occurred = now
	}
	return &model.Event{
		ID:          uuid.New().String(),
		Source:      source,
		EventType:   model.EventTypeIncidentStarted,
		Severity:    severity,
		Title:       inc.Title,
		Description: inc.Detail,
		EntityID:    id,
		OccurredAt:  occurred,
		CreatedAt:   now,
	}
}

func (d *Differ) resolvedEvent(source, id string, now time.Time) *model.Event {
	return &model.Event{
		ID:         uuid.New().String(),
		Source:     source,
		EventType:  model.EventTypeIncidentResolved,
		Severity:   model.EventSeverityInfo,
		Title:      fmt.Sprintf("%s incident resolved", source),
		EntityID:   id,
		OccurredAt: now,
		ResolvedAt: &now,
		CreatedAt:  now,
	}
}

func (d *Differ) publish(ctx context.Context, event *model.Event) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		d.logger.Warn("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}
