package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	// ApplicationName shows up in pg_stat_activity
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	// ConnectRetries is the number of extra connection attempts at startup
	ConnectRetries int
	RetryInterval  time.Duration
}

// DSN renders the lib/pq keyword/value connection string
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	parts := []string{
		"host=" + quoteValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteValue(c.User),
		"password=" + quoteValue(c.Password),
		"dbname=" + quoteValue(c.Database),
		"sslmode=" + sslMode,
	}
	if c.ApplicationName != "" {
		parts = append(parts, "application_name="+quoteValue(c.ApplicationName))
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())))
	}
	return strings.Join(parts, " ")
}

// quoteValue quotes a keyword/value parameter when lib/pq requires it
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Client represents a PostgreSQL database client
type Client struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewClient connects to PostgreSQL, retrying while the server comes up
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to PostgreSQL",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("database", config.Database),
	)

	interval := config.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var (
		db  *sqlx.DB
		err error
	)
	for attempt := 0; attempt <= config.ConnectRetries; attempt++ {
		db, err = connect(ctx, config)
		if err == nil {
			break
		}

		logger.Warn("Failed to connect to PostgreSQL",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", config.ConnectRetries+1),
			slog.Any("error", err),
		)
		if attempt == config.ConnectRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	logger.Info("Successfully connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
	)

	return &Client{db: db, logger: logger}, nil
}

func connect(ctx context.Context, config *Config) (*sqlx.DB, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return sqlx.ConnectContext(connectCtx, "postgres", config.DSN())
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	stats := c.db.Stats()
	c.logger.Info("Closing PostgreSQL connection",
		slog.Int("open_connections", stats.OpenConnections),
		slog.Int64("wait_count", stats.WaitCount),
	)

	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close PostgreSQL connection", slog.Any("error", err))
		return err
	}
	return nil
}

// HealthCheck pings the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
