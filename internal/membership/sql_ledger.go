package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

const membershipsSchema = `
	CREATE TABLE IF NOT EXISTS memberships (
		number        VARCHAR(6) PRIMARY KEY,
		customer_name TEXT NOT NULL,
		created_at    BIGINT NOT NULL
	)
`

// registerAttempts bounds retries when another writer takes the generated number first
const registerAttempts = 5

// SQLLedger keeps the ledger in the memberships table. The primary key
// guarantees uniqueness across worker processes.
type SQLLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
	intn   Intn
	mu     sync.Mutex
}

var _ Ledger = (*SQLLedger)(nil)

// NewSQLLedger creates a ledger backed by db
func NewSQLLedger(db *sqlx.DB, logger *slog.Logger) *SQLLedger {
	return &SQLLedger{
		db:     db,
		logger: logger,
		intn:   defaultIntn,
	}
}

// WithIntn replaces the random source used by Generate
func (l *SQLLedger) WithIntn(intn Intn) *SQLLedger {
	l.intn = intn
	return l
}

// EnsureSchema creates the memberships table if needed
func (l *SQLLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, membershipsSchema); err != nil {
		return fmt.Errorf("failed to create memberships table: %w", err)
	}
	return nil
}

// Validate reports whether number is well formed and recorded
func (l *SQLLedger) Validate(ctx context.Context, number string) (bool, error) {
	if !ValidFormat(number) {
		l.logger.Warn("Invalid membership number format", slog.String("membership_number", number))
		return false, nil
	}
	return l.exists(ctx, number)
}

// Generate returns a number not present in the ledger
func (l *SQLLedger) Generate(ctx context.Context) (string, error) {
	number, err := pickFree(ctx, l.intn, l.exists)
	if err != nil {
		return "", err
	}
	l.logger.Info("Generated new membership number", slog.String("membership_number", number))
	return number, nil
}

// Add inserts (number, name) unless number is malformed or already taken
func (l *SQLLedger) Add(ctx context.Context, number, name string) (bool, error) {
	if !ValidFormat(number) {
		l.logger.Warn("Invalid membership number format for new member", slog.String("membership_number", number))
		return false, nil
	}

	safeName := SanitizeName(name)
	query := l.db.Rebind(`
		INSERT INTO memberships (number, customer_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (number) DO NOTHING
	`)

	res, err := l.db.ExecContext(ctx, query, number, safeName, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		l.logger.Warn("Membership number already recorded", slog.String("membership_number", number))
		return false, nil
	}

	l.logger.Info("Added new member",
		slog.String("membership_number", number),
		slog.String("customer_name", safeName),
	)
	return true, nil
}

// Register generates and inserts a number for name, retrying when another
// writer claimed the same number in between
func (l *SQLLedger) Register(ctx context.Context, name string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 1; attempt <= registerAttempts; attempt++ {
		number, err := l.Generate(ctx)
		if err != nil {
			return Record{}, err
		}

		added, err := l.Add(ctx, number, name)
		if err != nil {
			return Record{}, err
		}
		if added {
			return Record{Number: number, CustomerName: SanitizeName(name)}, nil
		}

		l.logger.Warn("Membership number collision, retrying",
			slog.Int("attempt", attempt),
			slog.String("membership_number", number),
		)
	}

	return Record{}, fmt.Errorf("failed to register member after %d attempts", registerAttempts)
}

func (l *SQLLedger) exists(ctx context.Context, number string) (bool, error) {
	query := l.db.Rebind(`SELECT COUNT(*) FROM memberships WHERE number = ?`)

	var count int
	if err := l.db.GetContext(ctx, &count, query, number); err != nil {
		return false, fmt.Errorf("failed to look up membership number: %w", err)
	}
	return count > 0, nil
}
