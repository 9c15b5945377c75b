package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var testModeNamespace = uuid.MustParse("0d5b7a64-3c1e-4e2f-b1a8-9f6e2d4c7a10")

// TestModeProvider simulates the provider with deterministic identifiers
// derived from the idempotency key; the same key yields the same ids.
type TestModeProvider struct {
	logger *slog.Logger

	mu       sync.Mutex
	invoices map[string]Invoice
}

var _ Provider = (*TestModeProvider)(nil)

// NewTestModeProvider creates a TestModeProvider
func NewTestModeProvider(logger *slog.Logger) *TestModeProvider {
	return &TestModeProvider{
		logger:   logger,
		invoices: make(map[string]Invoice),
	}
}

func fakeID(prefix, key string) string {
	sum := strings.ReplaceAll(uuid.NewSHA1(testModeNamespace, []byte(key)).String(), "-", "")
	return prefix + sum[:14]
}

// CreateCustomer returns a fake customer id
func (p *TestModeProvider) CreateCustomer(ctx context.Context, email, name, idempotencyKey string) (string, error) {
	return fakeID("cus_test_", idempotencyKey), nil
}

// CreateInvoice records a draft invoice with a fake id
func (p *TestModeProvider) CreateInvoice(ctx context.Context, customerID string, items []LineItem, idempotencyKey string) (Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := fakeID("in_test_", idempotencyKey)
	if inv, ok := p.invoices[id]; ok {
		return inv, nil
	}

	var total int64
	currency := ""
	for _, item := range items {
		total += item.AmountMinorUnits
		currency = item.Currency
	}

	inv := Invoice{
		ID:               id,
		CustomerID:       customerID,
		Status:           StatusDraft,
		AmountMinorUnits: total,
		Currency:         currency,
		HostedURL:        "https://dashboard.stripe.com/test/invoices/" + id,
		PDFURL:           "https://dashboard.stripe.com/test/invoices/" + id + "/pdf",
	}
	p.invoices[id] = inv

	p.logger.Info("Created test invoice",
		slog.String("invoice_id", id),
		slog.Int64("amount_minor_units", total),
	)
	return inv, nil
}

// Finalize marks a draft invoice finalized
func (p *TestModeProvider) Finalize(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error) {
	return p.transition(invoiceID, StatusFinalized)
}

// Send marks a finalized invoice sent
func (p *TestModeProvider) Send(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error) {
	return p.transition(invoiceID, StatusSent)
}

func (p *TestModeProvider) transition(invoiceID string, to Status) (Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[invoiceID]
	if !ok {
		return Invoice{}, fmt.Errorf("test invoice %s not found", invoiceID)
	}
	inv.Status = to
	p.invoices[invoiceID] = inv
	return inv, nil
}
