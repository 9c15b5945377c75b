// Package invoicing issues customer invoices through a payment provider.
package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Status is the lifecycle state of an invoice
type Status string

// Invoice statuses
const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusSent      Status = "sent"
	StatusError     Status = "error"
)

// LineItem is one charge on an invoice
type LineItem struct {
	Description      string
	AmountMinorUnits int64
	Currency         string
}

// Invoice is the provider's view of an invoice
type Invoice struct {
	ID               string `json:"id"`
	CustomerID       string `json:"customerId"`
	Status           Status `json:"status"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
	HostedURL        string `json:"hostedUrl,omitempty"`
	PDFURL           string `json:"pdfUrl,omitempty"`
}

// Provider is a payment provider's invoicing API. Every call carries an
// idempotency key so a repeated call returns the original object.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name, idempotencyKey string) (string, error)
	CreateInvoice(ctx context.Context, customerID string, items []LineItem, idempotencyKey string) (Invoice, error)
	Finalize(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error)
	Send(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error)
}

// Request describes the invoice to issue
type Request struct {
	IdempotencyKey string
	CustomerEmail  string
	CustomerName   string
	Description    string
	VehicleDetails string
	Amount         float64
}

// ServiceConfig holds Service dependencies
type ServiceConfig struct {
	Provider Provider
	Currency string
	Logger   *slog.Logger
}

// Service runs the customer, invoice, finalize, send sequence
type Service struct {
	provider Provider
	currency string
	logger   *slog.Logger
}

// NewService creates a new Service
func NewService(cfg *ServiceConfig) *Service {
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "gbp"
	}
	return &Service{
		provider: cfg.Provider,
		currency: currency,
		logger:   cfg.Logger,
	}
}

// Currency returns the ISO currency code invoices are issued in
func (s *Service) Currency() string {
	return s.currency
}

// Issue creates, finalizes and sends an invoice. A failed send is logged and
// the finalized invoice is returned; any earlier failure is an error.
func (s *Service) Issue(ctx context.Context, req Request) (Invoice, error) {
	if req.IdempotencyKey == "" {
		return Invoice{}, fmt.Errorf("invoice request needs an idempotency key")
	}
	if req.Amount < 0 {
		return Invoice{}, fmt.Errorf("invoice amount must not be negative: %.2f", req.Amount)
	}

	log := s.logger.With(
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.String("customer_email", req.CustomerEmail),
	)
	log.Info("Issuing invoice", slog.String("amount", FormatAmount(req.Amount)))

	customerID, err := s.provider.CreateCustomer(ctx, req.CustomerEmail, req.CustomerName, req.IdempotencyKey+"/customer")
	if err != nil {
		return Invoice{}, fmt.Errorf("create customer: %w", err)
	}

	items := []LineItem{{
		Description:      LineDescription(req.Description, req.VehicleDetails),
		AmountMinorUnits: ToMinorUnits(req.Amount),
		Currency:         s.currency,
	}}

	inv, err := s.provider.CreateInvoice(ctx, customerID, items, req.IdempotencyKey+"/invoice")
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	inv, err = s.provider.Finalize(ctx, inv.ID, req.IdempotencyKey+"/finalize")
	if err != nil {
		return Invoice{}, fmt.Errorf("finalize invoice %s: %w", inv.ID, err)
	}

	sent, err := s.provider.Send(ctx, inv.ID, req.IdempotencyKey+"/send")
	if err != nil {
		log.Warn("Failed to send invoice, keeping finalized invoice",
			slog.String("invoice_id", inv.ID),
			slog.String("error", err.Error()),
		)
		return inv, nil
	}

	log.Info("Invoice issued",
		slog.String("invoice_id", sent.ID),
		slog.String("status", string(sent.Status)),
	)
	return sent, nil
}

// ToMinorUnits converts an amount to minor currency units, rounding half away from zero
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FormatAmount renders an amount with two decimals
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// LineDescription appends vehicle details to the service description
func LineDescription(description, vehicleDetails string) string {
	if vehicleDetails == "" {
		return description
	}
	return description + " - " + vehicleDetails
}
