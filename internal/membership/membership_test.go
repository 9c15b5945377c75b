package membership

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/shared/logger"
	"github.com/cuongbtq/repairshop-worker/shared/sqlite"
)

// sequence returns the given draws in order, then repeats the last one
func sequence(draws ...int) Intn {
	var mu sync.Mutex
	i := 0
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		d := draws[i]
		if i < len(draws)-1 {
			i++
		}
		return d % n
	}
}

func newFileLedger(t *testing.T) (*FileLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "members.csv")
	return NewFileLedger(path, logger.Discard()), path
}

func newSQLLedger(t *testing.T) *SQLLedger {
	t.Helper()

	client, err := sqlite.NewClient(context.Background(), &sqlite.Config{Path: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	l := NewSQLLedger(client.GetDB(), logger.Discard())
	require.NoError(t, l.EnsureSchema(context.Background()))
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	file, _ := newFileLedger(t)
	return map[string]Ledger{
		"file": file,
		"sql":  newSQLLedger(t),
	}
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"123456", true},
		{"000001", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{"", false},
		{" 123456", false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidFormat(tt.number))
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyProceed, p)

	p, err = ParsePolicy("Reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}

func TestLedger_AddAndValidate(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := l.Validate(ctx, "123456")
			require.NoError(t, err)
			assert.False(t, ok)

			added, err := l.Add(ctx, "123456", "Smith, Jo")
			require.NoError(t, err)
			assert.True(t, added)

			ok, err = l.Validate(ctx, "123456")
			require.NoError(t, err)
			assert.True(t, ok)

			added, err = l.Add(ctx, "123456", "Someone Else")
			require.NoError(t, err)
			assert.False(t, added, "duplicate numbers are rejected")

			added, err = l.Add(ctx, "12-456", "Bad")
			require.NoError(t, err)
			assert.False(t, added)

			ok, err = l.Validate(ctx, "abc")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLedger_GenerateSkipsTakenNumbers(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// draws map to minNumber + draw
			switch typed := l.(type) {
			case *FileLedger:
				typed.WithIntn(sequence(41, 41, 99))
			case *SQLLedger:
				typed.WithIntn(sequence(41, 41, 99))
			}

			first, err := l.Generate(ctx)
			require.NoError(t, err)
			assert.Equal(t, "000042", first)

			added, err := l.Add(ctx, first, "Jo")
			require.NoError(t, err)
			require.True(t, added)

			second, err := l.Generate(ctx)
			require.NoError(t, err)
			assert.Equal(t, "000100", second)
		})
	}
}

func TestLedger_NumbersStayUnique(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// a tiny draw space forces collisions and the scan fallback
			switch typed := l.(type) {
			case *FileLedger:
				typed.WithIntn(func(n int) int { return 7 })
			case *SQLLedger:
				typed.WithIntn(func(n int) int { return 7 })
			}

			seen := make(map[string]bool)
			for i := 0; i < 20; i++ {
				var number string
				if i%2 == 0 {
					rec, err := l.Register(ctx, fmt.Sprintf("Customer %d", i))
					require.NoError(t, err)
					number = rec.Number
				} else {
					n, err := l.Generate(ctx)
					require.NoError(t, err)
					added, err := l.Add(ctx, n, fmt.Sprintf("Customer %d", i))
					require.NoError(t, err)
					require.True(t, added)
					number = n
				}
				assert.False(t, seen[number], "number %s issued twice", number)
				seen[number] = true
			}
		})
	}
}

func TestFileLedger_ConcurrentRegister(t *testing.T) {
	l, _ := newFileLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan string, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := l.Register(ctx, fmt.Sprintf("Customer %d", i))
			if assert.NoError(t, err) {
				results <- rec.Number
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for n := range results {
		assert.False(t, seen[n])
		seen[n] = true
	}

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 40)
}

func TestFileLedger_FileFormat(t *testing.T) {
	l, path := newFileLedger(t)
	ctx := context.Background()

	_, err := l.Add(ctx, "000123", "Smith, Jo")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "MembershipNumber,CustomerName", lines[0])
	assert.Equal(t, "000123,Smith Jo", lines[1])
}

func TestFileLedger_PicksUpExternalAppends(t *testing.T) {
	l, path := newFileLedger(t)
	ctx := context.Background()

	_, err := l.Validate(ctx, "111111")
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("222222,Written Elsewhere\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err := l.Validate(ctx, "222222")
	require.NoError(t, err)
	assert.True(t, ok)
}
