package model

import "time"

// AlertState is the last status the engine has acted on for an entity,
// keyed by (EntityType, EntityID). For set-valued sources the row is a
// tracking row: LastStatus records the member's severity as a liveness
// marker rather than a scalar status.
type AlertState struct {
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	LastStatus  string    `json:"last_status"`
	LastChecked time.Time `json:"last_checked"`
}
