// Package sqlite opens SQLite databases through sqlx using the pure-Go
// modernc.org/sqlite driver. It backs local deployments and tests.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Config holds SQLite settings
type Config struct {
	// Path is a file path or ":memory:"
	Path        string
	BusyTimeout time.Duration
}

// Client wraps an SQLite database
type Client struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewClient opens the database, creating the parent directory of a file path
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	busy := config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busy.Milliseconds())

	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// one writer; an in-memory database also lives on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	logger.Info("SQLite database opened", slog.String("path", path))

	return &Client{db: db, logger: logger}, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database
func (c *Client) Close() error {
	c.logger.Info("Closing SQLite database")
	return c.db.Close()
}

// HealthCheck pings the database
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
