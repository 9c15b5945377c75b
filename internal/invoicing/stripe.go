package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
)

// StripeConfig holds Stripe API settings
type StripeConfig struct {
	APIURL       string
	SecretKey    string
	Timeout      time.Duration
	DaysUntilDue int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// StripeProvider calls the Stripe REST API with form-encoded requests
type StripeProvider struct {
	apiURL       string
	secretKey    string
	daysUntilDue int
	client       *http.Client
	logger       *slog.Logger
}

var _ Provider = (*StripeProvider)(nil)

// APIError is a non-2xx response from Stripe
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe API error (status %d): %s", e.StatusCode, e.Body)
}

type stripeObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	Currency         string `json:"currency"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

// NewStripeProvider creates a new StripeProvider
func NewStripeProvider(cfg *StripeConfig) *StripeProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.stripe.com/v1"
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	days := cfg.DaysUntilDue
	if days <= 0 {
		days = 30
	}

	return &StripeProvider{
		apiURL:       apiURL,
		secretKey:    cfg.SecretKey,
		daysUntilDue: days,
		client:       client,
		logger:       cfg.Logger,
	}
}

// CreateCustomer creates a Stripe customer
func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)

	obj, err := p.post(ctx, "/customers", form, idempotencyKey)
	if err != nil {
		return "", err
	}
	return obj.ID, nil
}

// CreateInvoice adds the line items as pending invoice items and creates a
// draft invoice that collects them
func (p *StripeProvider) CreateInvoice(ctx context.Context, customerID string, items []LineItem, idempotencyKey string) (Invoice, error) {
	for i, item := range items {
		form := url.Values{}
		form.Set("customer", customerID)
		form.Set("description", item.Description)
		form.Set("amount", strconv.FormatInt(item.AmountMinorUnits, 10))
		form.Set("currency", item.Currency)

		if _, err := p.post(ctx, "/invoiceitems", form, fmt.Sprintf("%s/item-%d", idempotencyKey, i)); err != nil {
			return Invoice{}, fmt.Errorf("invoice item %d: %w", i, err)
		}
	}

	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("collection_method", "send_invoice")
	form.Set("days_until_due", strconv.Itoa(p.daysUntilDue))
	form.Set("pending_invoice_items_behavior", "include")
	form.Set("auto_advance", "false")

	obj, err := p.post(ctx, "/invoices", form, idempotencyKey)
	if err != nil {
		return Invoice{}, err
	}
	return obj.invoice(), nil
}

// Finalize finalizes a draft invoice
func (p *StripeProvider) Finalize(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error) {
	obj, err := p.post(ctx, "/invoices/"+url.PathEscape(invoiceID)+"/finalize", url.Values{}, idempotencyKey)
	if err != nil {
		return Invoice{}, err
	}
	inv := obj.invoice()
	if inv.Status == "" || inv.Status == "open" {
		inv.Status = StatusFinalized
	}
	return inv, nil
}

// Send emails a finalized invoice to the customer
func (p *StripeProvider) Send(ctx context.Context, invoiceID, idempotencyKey string) (Invoice, error) {
	obj, err := p.post(ctx, "/invoices/"+url.PathEscape(invoiceID)+"/send", url.Values{}, idempotencyKey)
	if err != nil {
		return Invoice{}, err
	}
	inv := obj.invoice()
	inv.Status = StatusSent
	return inv, nil
}

func (o stripeObject) invoice() Invoice {
	status := Status(o.Status)
	if status == "open" {
		status = StatusFinalized
	}
	return Invoice{
		ID:               o.ID,
		CustomerID:       o.Customer,
		Status:           status,
		AmountMinorUnits: o.AmountDue,
		Currency:         o.Currency,
		HostedURL:        o.HostedInvoiceURL,
		PDFURL:           o.InvoicePDF,
	}
}

func (p *StripeProvider) post(ctx context.Context, endpoint string, form url.Values, idempotencyKey string) (stripeObject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return stripeObject{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	p.logger.Debug("Calling Stripe API", slog.String("endpoint", endpoint))

	resp, err := p.client.Do(req)
	if err != nil {
		return stripeObject{}, domain.NewRetryableError(fmt.Errorf("stripe %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stripeObject{}, domain.NewRetryableError(fmt.Errorf("stripe %s: read body: %w", endpoint, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return stripeObject{}, domain.NewRetryableError(apiErr)
		}
		return stripeObject{}, apiErr
	}

	var obj stripeObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return stripeObject{}, fmt.Errorf("stripe %s: decode response: %w", endpoint, err)
	}
	if obj.ID == "" {
		return stripeObject{}, fmt.Errorf("stripe %s: response without id", endpoint)
	}
	return obj, nil
}

// IsAPIError reports whether err carries a Stripe API error with the given status
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
