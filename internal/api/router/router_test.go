package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/internal/api/handler"
	"github.com/cuongbtq/repairshop-worker/internal/scheduling"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func newTestRouter(checks map[string]handler.HealthChecker) (*gin.Engine, *metrics.Counters) {
	gin.SetMode(gin.TestMode)

	m := metrics.New()
	log := logger.Discard()
	r := SetupRouter(&handler.Dependencies{
		Logger:      log,
		ServiceName: "repairshop-worker",
		WorkerID:    "worker-test",
		Metrics:     m,
		TaskTypes:   func() []string { return []string{"FinalQuote", "validateTrips"} },
		Links: scheduling.NewLinkBuilder(&scheduling.Config{
			Logger: log,
			Now:    func() time.Time { return time.Date(2025, 3, 26, 15, 4, 5, 0, time.UTC) },
		}),
		Checks: checks,
	})
	return r, m
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]handler.HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no dependencies",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy","service":"repairshop-worker","worker_id":"worker-test"}`,
		},
		{
			name: "database down",
			checks: map[string]handler.HealthChecker{
				"database": checkFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
				"rabbitmq": checkFunc(func(ctx context.Context) error { return nil }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","service":"repairshop-worker","worker_id":"worker-test",` +
				`"components":{"database":"unhealthy","rabbitmq":"healthy"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(tt.checks)
			w := do(r, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestStats(t *testing.T) {
	r, m := newTestRouter(nil)
	m.OutcomeReported(domain.OutcomeCompleted)
	m.OutcomeReported(domain.OutcomeCompleted)
	m.CorrelationMiss()

	w := do(r, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(2), got.Completed)
	assert.Equal(t, int64(1), got.CorrelationMisses)
}

func TestTaskTypes(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := do(r, http.MethodGet, "/api/v1/task-types", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"task_types":["FinalQuote","validateTrips"],"count":2}`, w.Body.String())
}

func TestCalendlyWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name: "invitee created",
			body: `{"event":"invitee.created","payload":{"invitee":{"email":"jo@example.com","name":"Jo Smith",` +
				`"uri":"https://api.calendly.com/invitees/abc"},"event":{"start_time":"2025-04-01T09:00:00Z",` +
				`"end_time":"2025-04-01T09:30:00Z","location":{"location":"Main workshop"}}}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Jo Smith", body["customerName"])
				assert.Equal(t, "2025-04-01T09:00:00Z", body["appointmentTime"])
				assert.Equal(t, "Main workshop", body["appointmentLocation"])
				assert.Equal(t, true, body["bookingConfirmed"])
			},
		},
		{
			name:       "other event acknowledged",
			body:       `{"event":"invitee.canceled","payload":{}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["ignored"])
			},
		},
		{
			name:       "malformed",
			body:       `{"event":`,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Invalid webhook payload", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(nil)
			w := do(r, http.MethodPost, "/webhooks/calendly", tt.body)
			require.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			tt.check(t, body)
		})
	}
}

func TestSimulateBooking(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := do(r, http.MethodGet, "/webhooks/calendly/simulate", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "customer@example.com", body["customerEmail"])
	assert.Equal(t, "Test Customer", body["customerName"])
	assert.Equal(t, "2025-03-27T10:00:00Z", body["appointmentTime"])
	assert.Equal(t, "simulated-booking-1743001445000", body["bookingReference"])

	w = do(r, http.MethodGet, "/webhooks/calendly/simulate?email=jo%40example.com&name=Jo", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "jo@example.com", body["customerEmail"])
	assert.Equal(t, "Jo", body["customerName"])
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := do(r, http.MethodOptions, "/api/v1/stats", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := do(r, http.MethodGet, "/api/v1/stats", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
