package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

// EventFilters defines the filters for listing events
type EventFilters struct {
	Source   string
	Severity string
	// Resolved filters on resolved_at: nil means both, true means
	// resolved only, false means unresolved only.
	Resolved *bool
	Limit    int
	Offset   int
}

// EventLogStorage defines the interface for the append-only event log
type EventLogStorage interface {
	// Insert appends an event
	Insert(ctx context.Context, event *model.Event) error

	// List retrieves events matching the filters, newest first
	List(ctx context.Context, filters EventFilters) ([]*model.Event, error)

	// Count returns the total number of events matching the filters
	Count(ctx context.Context, filters EventFilters) (int, error)

	// Summary aggregates counts over a trailing window
	Summary(ctx context.Context, window time.Duration) (*model.EventSummary, error)

	// HasOpenEvent reports whether an unresolved event already exists
	// for the natural key (source, entityID, eventType)
	HasOpenEvent(ctx context.Context, source, entityID string, eventType model.EventType) (bool, error)

	// MarkResolved stamps resolved_at on the open events for an entity
	MarkResolved(ctx context.Context, source, entityID string, at time.Time) error

	// LatestBySource returns the most recent created_at per source
	LatestBySource(ctx context.Context) (map[string]time.Time, error)

	// DeleteBefore deletes events that occurred before the cutoff
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteExpired deletes events past their own expires_at
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteEventLog implements EventLogStorage using SQLite
type SQLiteEventLog struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteEventLog creates the event log store and its table
func NewSQLiteEventLog(logger *zap.Logger, db *sql.DB) (*SQLiteEventLog, error) {
	s := &SQLiteEventLog{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventLog) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			entity_id TEXT,
			entity_name TEXT,
			occurred_at DATETIME NOT NULL,
			resolved_at DATETIME,
			expires_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
		CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
		CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_events_entity ON events(source, entity_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize events table: %w", err)
	}
	return nil
}

// Insert implements EventLogStorage.Insert
func (s *SQLiteEventLog) Insert(ctx context.Context, event *model.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, source, event_type, severity, title, description,
			entity_id, entity_name, occurred_at, resolved_at, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Source,
		string(event.EventType),
		string(event.Severity),
		event.Title,
		sql.NullString{String: event.Description, Valid: event.Description != ""},
		sql.NullString{String: event.EntityID, Valid: event.EntityID != ""},
		sql.NullString{String: event.EntityName, Valid: event.EntityName != ""},
		event.OccurredAt,
		nullTime(event.ResolvedAt),
		nullTime(event.ExpiresAt),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func buildFilterClause(filters EventFilters) (string, []interface{}) {
	clause := ""
	args := make([]interface{}, 0)

	if filters.Source != "" {
		clause += " AND source = ?"
		args = append(args, filters.Source)
	}
	if filters.Severity != "" {
		clause += " AND severity = ?"
		args = append(args, filters.Severity)
	}
	if filters.Resolved != nil {
		if *filters.Resolved {
			clause += " AND resolved_at IS NOT NULL"
		} else {
			clause += " AND resolved_at IS NULL"
		}
	}
	return clause, args
}

// List implements EventLogStorage.List
func (s *SQLiteEventLog) List(ctx context.Context, filters EventFilters) ([]*model.Event, error) {
	clause, args := buildFilterClause(filters)

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source, event_type, severity, title, description,
			entity_id, entity_name, occurred_at, resolved_at, expires_at, created_at
		FROM events
		WHERE 1=1` + clause + `
		ORDER BY occurred_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filters.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*model.Event, error) {
	event := &model.Event{}
	var description, entityID, entityName sql.NullString
	var resolvedAt, expiresAt sql.NullTime
	var eventType, severity string

	err := rows.Scan(
		&event.ID,
		&event.Source,
		&eventType,
		&severity,
		&event.Title,
		&description,
		&entityID,
		&entityName,
		&event.OccurredAt,
		&resolvedAt,
		&expiresAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.EventType = model.EventType(eventType)
	event.Severity = model.EventSeverity(severity)
	if description.Valid {
		event.Description = description.String
	}
	if entityID.Valid {
		event.EntityID = entityID.String
	}
	if entityName.Valid {
		event.EntityName = entityName.String
	}
	if resolvedAt.Valid {
		event.ResolvedAt = &resolvedAt.Time
	}
	if expiresAt.Valid {
		event.ExpiresAt = &expiresAt.Time
	}
	return event, nil
}

// Count implements EventLogStorage.Count
func (s *SQLiteEventLog) Count(ctx context.Context, filters EventFilters) (int, error) {
	clause, args := buildFilterClause(filters)

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE 1=1"+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Summary implements EventLogStorage.Summary
func (s *SQLiteEventLog) Summary(ctx context.Context, window time.Duration) (*model.EventSummary, error) {
	since := time.Now().Add(-window)
	summary := &model.EventSummary{
		BySeverity: make(map[string]int),
		BySource:   make(map[string]int),
		WindowDays: int(window.Hours() / 24),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT severity, COUNT(*) FROM events WHERE occurred_at >= ? GROUP BY severity", since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize by severity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		summary.BySeverity[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	srcRows, err := s.db.QueryContext(ctx,
		"SELECT source, COUNT(*) FROM events WHERE occurred_at >= ? GROUP BY source", since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize by source: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var source string
		var count int
		if err := srcRows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		summary.BySource[source] = count
	}
	if err := srcRows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE resolved_at IS NULL AND severity != 'info'").Scan(&summary.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to count active events: %w", err)
	}

	return summary, nil
}

// HasOpenEvent implements EventLogStorage.HasOpenEvent
func (s *SQLiteEventLog) HasOpenEvent(ctx context.Context, source, entityID string, eventType model.EventType) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE source = ? AND entity_id = ? AND event_type = ? AND resolved_at IS NULL`,
		source, entityID, string(eventType)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check open events: %w", err)
	}
	return count > 0, nil
}

// MarkResolved implements EventLogStorage.MarkResolved
func (s *SQLiteEventLog) MarkResolved(ctx context.Context, source, entityID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET resolved_at = ?
		WHERE source = ? AND entity_id = ? AND resolved_at IS NULL AND severity != 'info'`,
		at, source, entityID)
	if err != nil {
		return fmt.Errorf("failed to mark events resolved: %w", err)
	}
	return nil
}

// LatestBySource implements EventLogStorage.LatestBySource
func (s *SQLiteEventLog) LatestBySource(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, MAX(created_at) FROM events GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to query latest events: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time)
	for rows.Next() {
		var source string
		var created sql.NullString
		if err := rows.Scan(&source, &created); err != nil {
			return nil, fmt.Errorf("failed to scan latest event time: %w", err)
		}
		if !created.Valid {
			continue
		}
		ts, err := parseTimestamp(created.String)
		if err != nil {
			return nil, err
		}
		latest[source] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return latest, nil
}

// DeleteBefore implements EventLogStorage.DeleteBefore
func (s *SQLiteEventLog) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE occurred_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		s.logger.Info("Deleted old events",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return affected, nil
}

// DeleteExpired implements EventLogStorage.DeleteExpired
func (s *SQLiteEventLog) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE expires_at IS NOT NULL AND expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}
