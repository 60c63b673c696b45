package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

// AlertStateStorage defines the interface for the durable alert state table
type AlertStateStorage interface {
	// Get retrieves the state for an entity, nil if never seen
	Get(ctx context.Context, entityType, entityID string) (*model.AlertState, error)

	// Upsert creates or replaces the state for an entity
	Upsert(ctx context.Context, state *model.AlertState) error

	// Delete removes the state for an entity
	Delete(ctx context.Context, entityType, entityID string) error

	// ListIDs returns the tracked entity IDs for an entity type
	ListIDs(ctx context.Context, entityType string) ([]string, error)

	// ListByType returns all states for an entity type
	ListByType(ctx context.Context, entityType string) ([]*model.AlertState, error)

	// LatestByType returns the most recent LastChecked per entity type
	LatestByType(ctx context.Context) (map[string]time.Time, error)

	// DeleteCheckedBefore removes states not refreshed since the cutoff
	DeleteCheckedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteAlertState implements AlertStateStorage using SQLite
type SQLiteAlertState struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertState creates the alert state store and its table
func NewSQLiteAlertState(logger *zap.Logger, db *sql.DB) (*SQLiteAlertState, error) {
	s := &SQLiteAlertState{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAlertState) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_state (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			last_status TEXT NOT NULL,
			last_checked DATETIME NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_alert_state_checked ON alert_state(last_checked);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize alert_state table: %w", err)
	}
	return nil
}

// Get implements AlertStateStorage.Get
func (s *SQLiteAlertState) Get(ctx context.Context, entityType, entityID string) (*model.AlertState, error) {
	var state model.AlertState
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, last_status, last_checked
		FROM alert_state
		WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(
		&state.EntityType,
		&state.EntityID,
		&state.LastStatus,
		&state.LastChecked,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan alert state: %w", err)
	}
	return &state, nil
}

// Upsert implements AlertStateStorage.Upsert
func (s *SQLiteAlertState) Upsert(ctx context.Context, state *model.AlertState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_state (entity_type, entity_id, last_status, last_checked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			last_status = excluded.last_status,
			last_checked = excluded.last_checked`,
		state.EntityType,
		state.EntityID,
		state.LastStatus,
		state.LastChecked,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert state: %w", err)
	}
	return nil
}

// Delete implements AlertStateStorage.Delete
func (s *SQLiteAlertState) Delete(ctx context.Context, entityType, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM alert_state WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete alert state: %w", err)
	}
	return nil
}

// ListIDs implements AlertStateStorage.ListIDs
func (s *SQLiteAlertState) ListIDs(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_id FROM alert_state WHERE entity_type = ?", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// ListByType implements AlertStateStorage.ListByType
func (s *SQLiteAlertState) ListByType(ctx context.Context, entityType string) ([]*model.AlertState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, last_status, last_checked
		FROM alert_state
		WHERE entity_type = ?
		ORDER BY entity_id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert states: %w", err)
	}
	defer rows.Close()

	var states []*model.AlertState
	for rows.Next() {
		state := &model.AlertState{}
		if err := rows.Scan(&state.EntityType, &state.EntityID, &state.LastStatus, &state.LastChecked); err != nil {
			return nil, fmt.Errorf("failed to scan alert state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return states, nil
}

// LatestByType implements AlertStateStorage.LatestByType
func (s *SQLiteAlertState) LatestByType(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, MAX(last_checked) FROM alert_state GROUP BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query latest timestamps: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time)
	for rows.Next() {
		var entityType string
		var checked sql.NullString
		if err := rows.Scan(&entityType, &checked); err != nil {
			return nil, fmt.Errorf("failed to scan latest timestamp: %w", err)
		}
		if !checked.Valid {
			continue
		}
		ts, err := parseTimestamp(checked.String)
		if err != nil {
			return nil, err
		}
		latest[entityType] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return latest, nil
}

// DeleteCheckedBefore implements AlertStateStorage.DeleteCheckedBefore
func (s *SQLiteAlertState) DeleteCheckedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM alert_state WHERE last_checked < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale alert states: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		s.logger.Info("Deleted stale alert states",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return affected, nil
}
