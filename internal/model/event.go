package model

import "time"

// EventSeverity represents the severity level of an event
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityCritical EventSeverity = "critical"
)

// EventType represents the kind of transition an event records
type EventType string

const (
	EventTypeOutage           EventType = "outage"
	EventTypeDegraded         EventType = "degraded"
	EventTypeResolved         EventType = "resolved"
	EventTypeIncidentStarted  EventType = "incident_started"
	EventTypeIncidentResolved EventType = "incident_resolved"
)

// Event is one append-only entry in the event log. Rows are never
// rewritten after insert, except that ResolvedAt is stamped once when
// the underlying condition clears.
type Event struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	EventType   EventType     `json:"event_type"`
	Severity    EventSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	EntityID    string        `json:"entity_id,omitempty"`
	EntityName  string        `json:"entity_name,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EventSummary aggregates the event log over a trailing window
type EventSummary struct {
	BySeverity map[string]int `json:"by_severity"`
	BySource   map[string]int `json:"by_source"`
	Active     int            `json:"active"`
	WindowDays int            `json:"window_days"`
}
