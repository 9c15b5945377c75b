package membership

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var csvHeader = []string{"MembershipNumber", "CustomerName"}

// FileLedger keeps the ledger in a CSV file with a
// MembershipNumber,CustomerName header. One mutex serialises every read and
// append; the parsed file is cached and re-read on a cache miss to pick up
// entries appended by other writers.
type FileLedger struct {
	path   string
	logger *slog.Logger
	intn   Intn

	mu    sync.Mutex
	cache map[string]string
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger creates a ledger backed by the CSV file at path. The file
// and its directory are created on first use.
func NewFileLedger(path string, logger *slog.Logger) *FileLedger {
	return &FileLedger{
		path:   path,
		logger: logger,
		intn:   defaultIntn,
	}
}

// WithIntn replaces the random source used by Generate
func (l *FileLedger) WithIntn(intn Intn) *FileLedger {
	l.intn = intn
	return l
}

// Validate reports whether number is well formed and recorded
func (l *FileLedger) Validate(ctx context.Context, number string) (bool, error) {
	if !ValidFormat(number) {
		l.logger.Warn("Invalid membership number format", slog.String("membership_number", number))
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache != nil {
		if _, ok := l.cache[number]; ok {
			return true, nil
		}
	}

	if err := l.reloadLocked(); err != nil {
		return false, err
	}
	_, ok := l.cache[number]
	if !ok {
		l.logger.Warn("Membership number not found", slog.String("membership_number", number))
	}
	return ok, nil
}

// Generate returns a number not present in the ledger
func (l *FileLedger) Generate(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reloadLocked(); err != nil {
		return "", err
	}
	return l.generateLocked(ctx)
}

// Add appends (number, name) unless number is malformed or already taken
func (l *FileLedger) Add(ctx context.Context, number, name string) (bool, error) {
	if !ValidFormat(number) {
		l.logger.Warn("Invalid membership number format for new member", slog.String("membership_number", number))
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reloadLocked(); err != nil {
		return false, err
	}
	return l.addLocked(number, name)
}

// Register generates a number for name and appends it under one lock
func (l *FileLedger) Register(ctx context.Context, name string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reloadLocked(); err != nil {
		return Record{}, err
	}

	number, err := l.generateLocked(ctx)
	if err != nil {
		return Record{}, err
	}
	if _, err := l.addLocked(number, name); err != nil {
		return Record{}, err
	}
	return Record{Number: number, CustomerName: SanitizeName(name)}, nil
}

// Records returns every entry in file order
func (l *FileLedger) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open membership file: %w", err)
	}
	defer f.Close()

	return readRecords(f)
}

func (l *FileLedger) generateLocked(ctx context.Context) (string, error) {
	number, err := pickFree(ctx, l.intn, func(_ context.Context, n string) (bool, error) {
		_, used := l.cache[n]
		return used, nil
	})
	if err != nil {
		return "", err
	}

	l.logger.Info("Generated new membership number", slog.String("membership_number", number))
	return number, nil
}

func (l *FileLedger) addLocked(number, name string) (bool, error) {
	if _, exists := l.cache[number]; exists {
		l.logger.Warn("Membership number already recorded", slog.String("membership_number", number))
		return false, nil
	}

	safeName := SanitizeName(name)

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open membership file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{number, safeName}); err != nil {
		return false, fmt.Errorf("failed to append member: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, fmt.Errorf("failed to append member: %w", err)
	}

	l.cache[number] = safeName
	l.logger.Info("Added new member",
		slog.String("membership_number", number),
		slog.String("customer_name", safeName),
	)
	return true, nil
}

// reloadLocked re-reads the file into the cache, creating it when missing
func (l *FileLedger) reloadLocked() error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := l.createLocked(); err != nil {
			return err
		}
		l.cache = make(map[string]string)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open membership file: %w", err)
	}
	defer f.Close()

	records, err := readRecords(f)
	if err != nil {
		return err
	}

	cache := make(map[string]string, len(records))
	for _, r := range records {
		cache[r.Number] = r.CustomerName
	}
	l.cache = cache
	return nil
}

func (l *FileLedger) createLocked() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create membership directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create membership file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write membership header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write membership header: %w", err)
	}

	l.logger.Info("Created new membership file", slog.String("path", l.path))
	return nil
}

func readRecords(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read membership file: %w", err)
		}
		if len(row) < 2 {
			continue
		}
		number := strings.TrimSpace(row[0])
		if number == csvHeader[0] {
			continue
		}
		records = append(records, Record{Number: number, CustomerName: strings.TrimSpace(row[1])})
	}
}
