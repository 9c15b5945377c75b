// Package membership keeps the append-only ledger of 6-digit membership
// numbers and the customers they were issued to.
package membership

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

const (
	minNumber = 1
	maxNumber = 999999

	// random probes before falling back to a scan for a free number
	randomProbes = 64
)

var (
	// ErrLedgerFull is returned when every membership number is taken
	ErrLedgerFull = errors.New("no free membership numbers left")

	// ErrInvalidNumber is returned for numbers that are not exactly six digits
	ErrInvalidNumber = errors.New("membership number must be exactly 6 digits")

	numberPattern = regexp.MustCompile(`^\d{6}$`)
)

// Record is one ledger entry
type Record struct {
	Number       string `json:"number"`
	CustomerName string `json:"customerName"`
}

// Ledger validates, issues and records membership numbers
type Ledger interface {
	// Validate reports whether number is well formed and present in the ledger
	Validate(ctx context.Context, number string) (bool, error)
	// Generate returns a number not yet present in the ledger
	Generate(ctx context.Context) (string, error)
	// Add appends (number, name); false when number is malformed or taken
	Add(ctx context.Context, number, name string) (bool, error)
	// Register generates and adds a number for name in one step
	Register(ctx context.Context, name string) (Record, error)
}

// InvalidNumberPolicy decides what happens when a customer claims to be a
// member but the number they gave does not validate
type InvalidNumberPolicy string

// Invalid number policies
const (
	// PolicyProceed treats the customer as a non-member
	PolicyProceed InvalidNumberPolicy = "proceed"
	// PolicyReject raises the invalid_membership_number business error
	PolicyReject InvalidNumberPolicy = "reject"
)

// ParsePolicy parses a policy name; empty means proceed
func ParsePolicy(s string) (InvalidNumberPolicy, error) {
	switch InvalidNumberPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyProceed, "":
		return PolicyProceed, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown invalid number policy %q", s)
	}
}

// ValidFormat reports whether number is exactly six digits
func ValidFormat(number string) bool {
	return numberPattern.MatchString(number)
}

// SanitizeName trims the name and strips commas so it stays one CSV field
func SanitizeName(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, ",", ""))
}

// Intn returns a value in [0, n); the ledgers draw candidate numbers from it
type Intn func(n int) int

func defaultIntn(n int) int {
	return rand.Intn(n)
}

func formatNumber(n int) string {
	return fmt.Sprintf("%06d", n)
}

// pickFree draws random candidates and falls back to a scan from a random
// start so a nearly full ledger still terminates
func pickFree(ctx context.Context, intn Intn, taken func(ctx context.Context, number string) (bool, error)) (string, error) {
	span := maxNumber - minNumber + 1

	for i := 0; i < randomProbes; i++ {
		candidate := formatNumber(minNumber + intn(span))
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}

	start := intn(span)
	for i := 0; i < span; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		candidate := formatNumber(minNumber + (start+i)%span)
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}

	return "", ErrLedgerFull
}
