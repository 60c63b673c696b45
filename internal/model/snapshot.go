package model

import "time"

// Status represents a scalar entity's observed condition
type Status string

const (
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
	StatusOutage      Status = "outage"
	StatusUnknown     Status = "unknown"
)

// Scalar is one collector observation of a single-status entity
// (a service, an ISP, the local node).
type Scalar struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name,omitempty"`
	Status     Status `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// Incident is one open member of a set-valued source (a cloud
// provider's incident list, an M365 service's issue list). ID may be
// empty for sources without a native identifier; identity is then
// derived from Title and StartTime.
type Incident struct {
	ID        string        `json:"id,omitempty"`
	Title     string        `json:"title"`
	Severity  EventSeverity `json:"severity"`
	StartTime time.Time     `json:"start_time"`
	Detail    string        `json:"detail,omitempty"`
}
