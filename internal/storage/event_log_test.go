package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

func newTestEventLog(t *testing.T) *SQLiteEventLog {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteEventLog(logger, db)
	require.NoError(t, err)
	return store
}

func makeEvent(source, entityID string, eventType model.EventType, severity model.EventSeverity, occurredAt time.Time) *model.Event {
	return &model.Event{
		ID:         uuid.New().String(),
		Source:     source,
		EventType:  eventType,
		Severity:   severity,
		Title:      entityID + " " + string(eventType),
		EntityID:   entityID,
		OccurredAt: occurredAt,
		CreatedAt:  occurredAt,
	}
}

func TestEventLog_InsertAndList(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "github", model.EventTypeOutage, model.EventSeverityCritical, now.Add(-2*time.Hour))))
	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "npm", model.EventTypeDegraded, model.EventSeverityWarning, now.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, makeEvent("azure", "inc-1", model.EventTypeIncidentStarted, model.EventSeverityCritical, now)))

	// Test case 1: Unfiltered list is ordered newest first
	events, err := store.List(ctx, EventFilters{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "inc-1", events[0].EntityID)
	require.Equal(t, "github", events[2].EntityID)

	// Test case 2: Source filter
	events, err = store.List(ctx, EventFilters{Source: "azure"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.EventTypeIncidentStarted, events[0].EventType)

	// Test case 3: Severity filter plus count
	events, err = store.List(ctx, EventFilters{Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	total, err := store.Count(ctx, EventFilters{Severity: "critical"})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	// Test case 4: Pagination
	events, err = store.List(ctx, EventFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "npm", events[0].EntityID)
}

func TestEventLog_ResolvedFilter(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := makeEvent("http-check", "github", model.EventTypeOutage, model.EventSeverityCritical, now)
	closed := makeEvent("http-check", "npm", model.EventTypeOutage, model.EventSeverityCritical, now)
	closed.ResolvedAt = &now
	require.NoError(t, store.Insert(ctx, open))
	require.NoError(t, store.Insert(ctx, closed))

	resolved := true
	events, err := store.List(ctx, EventFilters{Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "npm", events[0].EntityID)

	unresolved := false
	events, err = store.List(ctx, EventFilters{Resolved: &unresolved})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "github", events[0].EntityID)
}

func TestEventLog_HasOpenEventAndMarkResolved(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "github", model.EventTypeOutage, model.EventSeverityCritical, now)))

	open, err := store.HasOpenEvent(ctx, "http-check", "github", model.EventTypeOutage)
	require.NoError(t, err)
	require.True(t, open)

	open, err = store.HasOpenEvent(ctx, "http-check", "github", model.EventTypeDegraded)
	require.NoError(t, err)
	require.False(t, open)

	require.NoError(t, store.MarkResolved(ctx, "http-check", "github", now.Add(time.Minute)))

	open, err = store.HasOpenEvent(ctx, "http-check", "github", model.EventTypeOutage)
	require.NoError(t, err)
	require.False(t, open)
}

func TestEventLog_Summary(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "github", model.EventTypeOutage, model.EventSeverityCritical, now.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "npm", model.EventTypeDegraded, model.EventSeverityWarning, now.Add(-2*time.Hour))))
	require.NoError(t, store.Insert(ctx, makeEvent("azure", "inc-1", model.EventTypeIncidentStarted, model.EventSeverityCritical, now.Add(-3*time.Hour))))

	// Outside the 7-day window
	require.NoError(t, store.Insert(ctx, makeEvent("azure", "inc-old", model.EventTypeIncidentStarted, model.EventSeverityCritical, now.Add(-8*24*time.Hour))))

	summary, err := store.Summary(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, summary.BySeverity["critical"])
	require.Equal(t, 1, summary.BySeverity["warning"])
	require.Equal(t, 2, summary.BySource["http-check"])
	require.Equal(t, 1, summary.BySource["azure"])
	// The old event is outside the window but still unresolved
	require.Equal(t, 4, summary.Active)
	require.Equal(t, 7, summary.WindowDays)
}

func TestEventLog_Retention(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "old", model.EventTypeOutage, model.EventSeverityCritical, now.Add(-40*24*time.Hour))))
	require.NoError(t, store.Insert(ctx, makeEvent("http-check", "fresh", model.EventTypeOutage, model.EventSeverityCritical, now)))

	expiring := makeEvent("nvd", "cve-1", model.EventTypeIncidentStarted, model.EventSeverityWarning, now)
	expiry := now.Add(-time.Minute)
	expiring.ExpiresAt = &expiry
	require.NoError(t, store.Insert(ctx, expiring))

	deleted, err := store.DeleteBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	expired, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, expired)

	total, err := store.Count(ctx, EventFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestEventLog_LatestBySource(t *testing.T) {
	store := newTestEventLog(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	e1 := makeEvent("http-check", "a", model.EventTypeOutage, model.EventSeverityCritical, base)
	e1.CreatedAt = base
	e2 := makeEvent("http-check", "b", model.EventTypeOutage, model.EventSeverityCritical, base)
	e2.CreatedAt = base.Add(time.Minute)
	require.NoError(t, store.Insert(ctx, e1))
	require.NoError(t, store.Insert(ctx, e2))

	latest, err := store.LatestBySource(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.True(t, latest["http-check"].Equal(base.Add(time.Minute)))
}
