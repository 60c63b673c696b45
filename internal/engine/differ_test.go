package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
	"github.com/t77yq/statuswatch/internal/storage"
)

func newDifferFixture(t *testing.T) (*Differ, *storage.SQLiteAlertState, *storage.SQLiteEventLog) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	states, err := storage.NewSQLiteAlertState(logger, db)
	require.NoError(t, err)
	events, err := storage.NewSQLiteEventLog(logger, db)
	require.NoError(t, err)

	return NewDiffer(logger, states, events, nil), states, events
}

func issue(id, title string, severity model.EventSeverity) model.Incident {
	return model.Incident{
		ID:        id,
		Title:     title,
		Severity:  severity,
		StartTime: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestIncidentIdentity(t *testing.T) {
	// Test case 1: Native IDs are used directly
	require.Equal(t, "MO502", IncidentIdentity(issue("MO502", "Exchange delays", model.EventSeverityWarning)))

	// Test case 2: Content hash is deterministic
	a := issue("", "VM provisioning errors", model.EventSeverityCritical)
	b := issue("", "VM provisioning errors", model.EventSeverityWarning)
	require.Equal(t, IncidentIdentity(a), IncidentIdentity(b), "severity must not affect identity")

	// Test case 3: Title or start time changes produce a new identity
	c := issue("", "VM provisioning errors (EU)", model.EventSeverityCritical)
	require.NotEqual(t, IncidentIdentity(a), IncidentIdentity(c))
	d := a
	d.StartTime = d.StartTime.Add(time.Hour)
	require.NotEqual(t, IncidentIdentity(a), IncidentIdentity(d))
}

func TestDiffer_SetDiffSymmetry(t *testing.T) {
	differ, states, _ := newDifferFixture(t)
	ctx := context.Background()

	// Previous tracked set {A,B,C}
	first := []model.Incident{
		issue("A", "Incident A", model.EventSeverityWarning),
		issue("B", "Incident B", model.EventSeverityWarning),
		issue("C", "Incident C", model.EventSeverityCritical),
	}
	emitted, err := differ.ProcessIncidents(ctx, "azure", "cloud-incident", first)
	require.NoError(t, err)
	require.Len(t, emitted, 3)

	// Current set {B,C,D}: exactly one started for D, one resolved
	// for A, nothing for B and C
	second := []model.Incident{
		issue("B", "Incident B", model.EventSeverityWarning),
		issue("C", "Incident C", model.EventSeverityCritical),
		issue("D", "Incident D", model.EventSeverityCritical),
	}
	emitted, err = differ.ProcessIncidents(ctx, "azure", "cloud-incident", second)
	require.NoError(t, err)
	require.Len(t, emitted, 2)

	var started, resolved *model.Event
	for _, event := range emitted {
		switch event.EventType {
		case model.EventTypeIncidentStarted:
			started = event
		case model.EventTypeIncidentResolved:
			resolved = event
		}
	}
	require.NotNil(t, started)
	require.Equal(t, "D", started.EntityID)
	require.Equal(t, model.EventSeverityCritical, started.Severity)
	require.NotNil(t, resolved)
	require.Equal(t, "A", resolved.EntityID)
	require.Equal(t, model.EventSeverityInfo, resolved.Severity)

	ids, err := states.ListIDs(ctx, TrackingType("cloud-incident", "azure"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"B", "C", "D"}, ids)
}

func TestDiffer_SourcesSharingEntityTypeAreIndependent(t *testing.T) {
	differ, states, events := newDifferFixture(t)
	ctx := context.Background()

	// Two providers feed the same entity type, each with one incident
	cf := issue("CF-1", "Cloudflare edge errors", model.EventSeverityCritical)
	do := issue("DO-1", "Droplet API latency", model.EventSeverityWarning)

	emitted, err := differ.ProcessIncidents(ctx, "cloudflare", "cloud-incident", []model.Incident{cf})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	emitted, err = differ.ProcessIncidents(ctx, "digitalocean", "cloud-incident", []model.Incident{do})
	require.NoError(t, err)
	require.Len(t, emitted, 1, "digitalocean's diff must not resolve cloudflare's incident")
	require.Equal(t, model.EventTypeIncidentStarted, emitted[0].EventType)

	// An unchanged cycle for one source leaves the other untouched
	emitted, err = differ.ProcessIncidents(ctx, "cloudflare", "cloud-incident", []model.Incident{cf})
	require.NoError(t, err)
	require.Empty(t, emitted)

	ids, err := states.ListIDs(ctx, TrackingType("cloud-incident", "digitalocean"))
	require.NoError(t, err)
	require.Equal(t, []string{"DO-1"}, ids)

	open, err := events.HasOpenEvent(ctx, "digitalocean", "DO-1", model.EventTypeIncidentStarted)
	require.NoError(t, err)
	require.True(t, open)

	// Resolving one source's incident closes only that source's event
	emitted, err = differ.ProcessIncidents(ctx, "cloudflare", "cloud-incident", nil)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	require.Equal(t, "CF-1", emitted[0].EntityID)

	open, err = events.HasOpenEvent(ctx, "digitalocean", "DO-1", model.EventTypeIncidentStarted)
	require.NoError(t, err)
	require.True(t, open)
}

func TestDiffer_UnchangedSetEmitsNothing(t *testing.T) {
	differ, _, events := newDifferFixture(t)
	ctx := context.Background()

	incidents := []model.Incident{
		issue("A", "Incident A", model.EventSeverityWarning),
		issue("B", "Incident B", model.EventSeverityCritical),
	}

	_, err := differ.ProcessIncidents(ctx, "gcp", "cloud-incident", incidents)
	require.NoError(t, err)

	// Re-observing the identical set is pure noise
	emitted, err := differ.ProcessIncidents(ctx, "gcp", "cloud-incident", incidents)
	require.NoError(t, err)
	require.Empty(t, emitted)

	total, err := events.Count(ctx, storage.EventFilters{Source: "gcp"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestDiffer_HashedIncidents(t *testing.T) {
	differ, _, _ := newDifferFixture(t)
	ctx := context.Background()

	// RSS-derived incidents with no native ID: previous {h1},
	// current {h1, h2} emits exactly one started event for h2
	h1 := model.Incident{Title: "Network connectivity issues", Severity: model.EventSeverityCritical, StartTime: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	h2 := model.Incident{Title: "Storage latency", Severity: model.EventSeverityWarning, StartTime: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	emitted, err := differ.ProcessIncidents(ctx, "azure", "cloud-incident", []model.Incident{h1})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	emitted, err = differ.ProcessIncidents(ctx, "azure", "cloud-incident", []model.Incident{h1, h2})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	require.Equal(t, model.EventTypeIncidentStarted, emitted[0].EventType)
	require.Equal(t, "Storage latency", emitted[0].Title)
	require.Equal(t, IncidentIdentity(h2), emitted[0].EntityID)
}

func TestDiffer_ResolutionClosesStartedEvent(t *testing.T) {
	differ, _, events := newDifferFixture(t)
	ctx := context.Background()

	inc := issue("INC-9", "Major outage", model.EventSeverityCritical)
	_, err := differ.ProcessIncidents(ctx, "m365", "m365-issue", []model.Incident{inc})
	require.NoError(t, err)

	open, err := events.HasOpenEvent(ctx, "m365", "INC-9", model.EventTypeIncidentStarted)
	require.NoError(t, err)
	require.True(t, open)

	_, err = differ.ProcessIncidents(ctx, "m365", "m365-issue", nil)
	require.NoError(t, err)

	open, err = events.HasOpenEvent(ctx, "m365", "INC-9", model.EventTypeIncidentStarted)
	require.NoError(t, err)
	require.False(t, open)
}
