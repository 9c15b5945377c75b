package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

const sideEffectsSchema = `
	CREATE TABLE IF NOT EXISTS side_effects (
		idempotency_key VARCHAR(64) PRIMARY KEY,
		job_key         VARCHAR(255) NOT NULL,
		result          TEXT NOT NULL,
		created_at      BIGINT NOT NULL
	)
`

// SQLStore is a Store backed by the side_effects table. Queries use ?
// placeholders rebound for the connected driver, so the same store runs on
// PostgreSQL and SQLite.
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new SQLStore
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the side_effects table if needed
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sideEffectsSchema); err != nil {
		return fmt.Errorf("failed to create side_effects table: %w", err)
	}
	return nil
}

// Get returns the result stored under key
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := s.db.Rebind(`SELECT result FROM side_effects WHERE idempotency_key = ?`)

	var result string
	err := s.db.GetContext(ctx, &result, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get side effect: %w", err)
	}

	return []byte(result), true, nil
}

// Put stores result under key unless the key is already present
func (s *SQLStore) Put(ctx context.Context, key, jobKey string, result []byte) error {
	query := s.db.Rebind(`
		INSERT INTO side_effects (idempotency_key, job_key, result, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`)

	res, err := s.db.ExecContext(ctx, query, key, jobKey, string(result), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store side effect: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Side effect already stored, keeping first result",
			slog.String("idempotency_key", key),
			slog.String("job_key", jobKey),
		)
	}

	return nil
}
