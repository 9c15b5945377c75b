package invoicing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

type recordedCall struct {
	Path           string
	IdempotencyKey string
	Auth           string
	Form           map[string]string
}

type fakeStripe struct {
	mu        sync.Mutex
	calls     []recordedCall
	failPath  string
	failCode  int
	server    *httptest.Server
	invoiceID string
}

func newFakeStripe(t *testing.T) *fakeStripe {
	t.Helper()

	f := &fakeStripe{invoiceID: "in_123"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{
			Path:           r.URL.Path,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			Auth:           r.Header.Get("Authorization"),
			Form:           form,
		})
		failPath, failCode := f.failPath, f.failCode
		f.mu.Unlock()

		if failPath != "" && strings.HasSuffix(r.URL.Path, failPath) {
			w.WriteHeader(failCode)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/customers":
			_, _ = fmt.Fprint(w, `{"id":"cus_1"}`)
		case r.URL.Path == "/v1/invoiceitems":
			_, _ = fmt.Fprint(w, `{"id":"ii_1"}`)
		case r.URL.Path == "/v1/invoices":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": f.invoiceID, "customer": "cus_1", "status": "draft",
				"amount_due": 45000, "currency": "gbp",
			})
		case strings.HasSuffix(r.URL.Path, "/finalize"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": f.invoiceID, "customer": "cus_1", "status": "open",
				"amount_due": 45000, "currency": "gbp",
				"hosted_invoice_url": "https://invoice.example/in_123",
				"invoice_pdf":        "https://invoice.example/in_123/pdf",
			})
		case strings.HasSuffix(r.URL.Path, "/send"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": f.invoiceID, "customer": "cus_1", "status": "open",
				"amount_due": 45000, "currency": "gbp",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeStripe) provider() *StripeProvider {
	return NewStripeProvider(&StripeConfig{
		APIURL:    f.server.URL + "/v1",
		SecretKey: "sk_test_abc",
		Timeout:   time.Second,
		Logger:    logger.Discard(),
	})
}

func (f *fakeStripe) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

func repairRequest() Request {
	return Request{
		IdempotencyKey: "job-7",
		CustomerEmail:  "jo@example.com",
		CustomerName:   "Jo Smith",
		Description:    "Brake pads",
		VehicleDetails: "Ford Focus AB12 CDE",
		Amount:         450.0,
	}
}

func TestService_IssueWithStripe(t *testing.T) {
	fake := newFakeStripe(t)
	svc := NewService(&ServiceConfig{Provider: fake.provider(), Logger: logger.Discard()})

	inv, err := svc.Issue(context.Background(), repairRequest())
	require.NoError(t, err)

	assert.Equal(t, "in_123", inv.ID)
	assert.Equal(t, StatusSent, inv.Status)
	assert.Equal(t, []string{
		"/v1/customers",
		"/v1/invoiceitems",
		"/v1/invoices",
		"/v1/invoices/in_123/finalize",
		"/v1/invoices/in_123/send",
	}, fake.paths())

	fake.mu.Lock()
	defer fake.mu.Unlock()

	item := fake.calls[1]
	assert.Equal(t, "45000", item.Form["amount"])
	assert.Equal(t, "gbp", item.Form["currency"])
	assert.Equal(t, "Brake pads - Ford Focus AB12 CDE", item.Form["description"])
	assert.Equal(t, "send_invoice", fake.calls[2].Form["collection_method"])

	keys := make(map[string]bool)
	for _, c := range fake.calls {
		assert.Equal(t, "Bearer sk_test_abc", c.Auth)
		assert.True(t, strings.HasPrefix(c.IdempotencyKey, "job-7/"), c.IdempotencyKey)
		assert.False(t, keys[c.IdempotencyKey], "idempotency key reused: %s", c.IdempotencyKey)
		keys[c.IdempotencyKey] = true
	}
}

func TestService_SendFailureKeepsFinalizedInvoice(t *testing.T) {
	fake := newFakeStripe(t)
	fake.failPath, fake.failCode = "/send", http.StatusBadRequest
	svc := NewService(&ServiceConfig{Provider: fake.provider(), Logger: logger.Discard()})

	inv, err := svc.Issue(context.Background(), repairRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, inv.Status)
	assert.Equal(t, "https://invoice.example/in_123", inv.HostedURL)
}

func TestService_ProviderErrors(t *testing.T) {
	tests := []struct {
		name          string
		failPath      string
		failCode      int
		wantRetryable bool
	}{
		{name: "customer rejected", failPath: "/customers", failCode: http.StatusBadRequest},
		{name: "rate limited", failPath: "/invoiceitems", failCode: http.StatusTooManyRequests, wantRetryable: true},
		{name: "server error on finalize", failPath: "/finalize", failCode: http.StatusBadGateway, wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeStripe(t)
			fake.failPath, fake.failCode = tt.failPath, tt.failCode
			svc := NewService(&ServiceConfig{Provider: fake.provider(), Logger: logger.Discard()})

			_, err := svc.Issue(context.Background(), repairRequest())
			require.Error(t, err)
			assert.True(t, IsAPIError(err, tt.failCode))
			assert.Equal(t, tt.wantRetryable, domain.IsRetryable(err))
		})
	}
}

func TestService_RejectsBadRequests(t *testing.T) {
	svc := NewService(&ServiceConfig{Provider: NewTestModeProvider(logger.Discard()), Logger: logger.Discard()})

	req := repairRequest()
	req.IdempotencyKey = ""
	_, err := svc.Issue(context.Background(), req)
	assert.Error(t, err)

	req = repairRequest()
	req.Amount = -1
	_, err = svc.Issue(context.Background(), req)
	assert.Error(t, err)
}

func TestTestModeProvider_Deterministic(t *testing.T) {
	svc := NewService(&ServiceConfig{Provider: NewTestModeProvider(logger.Discard()), Currency: "GBP", Logger: logger.Discard()})

	first, err := svc.Issue(context.Background(), repairRequest())
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), repairRequest())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, strings.HasPrefix(first.ID, "in_test_"))
	assert.True(t, strings.HasPrefix(first.CustomerID, "cus_test_"))
	assert.Equal(t, StatusSent, first.Status)
	assert.Equal(t, int64(45000), first.AmountMinorUnits)
	assert.Equal(t, "gbp", first.Currency)

	other := repairRequest()
	other.IdempotencyKey = "job-8"
	third, err := svc.Issue(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestAmountHelpers(t *testing.T) {
	tests := []struct {
		amount float64
		minor  int64
		text   string
	}{
		{amount: 450, minor: 45000, text: "450.00"},
		{amount: 19.99, minor: 1999, text: "19.99"},
		{amount: 7.5, minor: 750, text: "7.50"},
		{amount: 0, minor: 0, text: "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.minor, ToMinorUnits(tt.amount))
			assert.Equal(t, tt.text, FormatAmount(tt.amount))
		})
	}

	assert.Equal(t, "Service", LineDescription("Service", ""))
}
