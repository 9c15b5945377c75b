package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/scheduling"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
)

// HealthChecker is a dependency the health endpoint probes
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	WorkerID    string
	Metrics     *metrics.Counters
	// TaskTypes lists the task types the worker subscribed to
	TaskTypes func() []string
	Links     *scheduling.LinkBuilder
	// Checks are probed by /health, keyed by component name
	Checks map[string]HealthChecker
}

// StatusHandler serves health and runtime counters
type StatusHandler struct {
	logger      *slog.Logger
	serviceName string
	workerID    string
	metrics     *metrics.Counters
	taskTypes   func() []string
	checks      map[string]HealthChecker
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	taskTypes := deps.TaskTypes
	if taskTypes == nil {
		taskTypes = func() []string { return nil }
	}
	return &StatusHandler{
		logger:      deps.Logger,
		serviceName: deps.ServiceName,
		workerID:    deps.WorkerID,
		metrics:     m,
		taskTypes:   taskTypes,
		checks:      deps.Checks,
	}
}

// WebhookHandler handles booking webhooks
type WebhookHandler struct {
	logger *slog.Logger
	links  *scheduling.LinkBuilder
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger: deps.Logger,
		links:  deps.Links,
	}
}
