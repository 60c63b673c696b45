package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store defines the TTL cache contract. Get fails open: any read,
// decode or expiry problem is reported as a miss so the caller always
// has its fallback path. Set is fire-and-forget: failures are logged,
// never returned.
type Store interface {
	// Get returns the payload for a key, or ok=false on miss
	Get(ctx context.Context, key string) (payload []byte, ok bool)

	// Set stores a payload under a key with the given TTL
	Set(ctx context.Context, key, source string, payload []byte, ttl time.Duration)

	// Invalidate removes a single key
	Invalidate(ctx context.Context, key string) error

	// InvalidatePrefix removes every key under a namespace prefix
	InvalidatePrefix(ctx context.Context, prefix string) error

	// DeleteExpired removes rows past their expiry
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteStore implements Store on the shared SQLite database
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
	now    func() time.Time
}

// NewSQLiteStore creates the cache store and its table
func NewSQLiteStore(logger *zap.Logger, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{logger: logger, db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			payload TEXT NOT NULL,
			fetched_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize cache_entries table: %w", err)
	}
	return nil
}

// Get implements Store.Get. An expired row is deleted on encounter.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var payload []byte
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM cache_entries WHERE key = ?", key).
		Scan(&payload, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("Cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	if s.now().After(expiresAt) {
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			s.logger.Warn("Failed to delete expired cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	return payload, true
}

// Set implements Store.Set. TTLs are clamped to zero so expires_at is
// never earlier than fetched_at.
func (s *SQLiteStore) Set(ctx context.Context, key, source string, payload []byte, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	fetchedAt := s.now()
	expiresAt := fetchedAt.Add(ttl)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, source, payload, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source = excluded.source,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		key, source, payload, fetchedAt, expiresAt)
	if err != nil {
		s.logger.Warn("Cache write failed",
			zap.String("key", key),
			zap.String("source", source),
			zap.Error(err))
	}
}

// Invalidate implements Store.Invalidate
func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache key: %w", err)
	}
	return nil
}

// InvalidatePrefix implements Store.InvalidatePrefix
func (s *SQLiteStore) InvalidatePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	if err != nil {
		return fmt.Errorf("failed to invalidate cache prefix: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// DeleteExpired implements Store.DeleteExpired
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}
