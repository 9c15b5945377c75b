// Package registry maps task types to handlers and turns each handler run
// into exactly one reported outcome.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/correlation"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/internal/worker/outcome"
)

// Config holds registry dependencies and timeouts
type Config struct {
	Reporter       *outcome.Reporter
	Publisher      *correlation.Publisher
	Logger         *slog.Logger
	Metrics        *metrics.Counters
	JobTimeout     time.Duration
	ReportTimeout  time.Duration
	PublishTimeout time.Duration
}

// Registry is the runtime's single entry point for jobs
type Registry struct {
	reporter       *outcome.Reporter
	publisher      *correlation.Publisher
	logger         *slog.Logger
	metrics        *metrics.Counters
	jobTimeout     time.Duration
	reportTimeout  time.Duration
	publishTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty registry
func New(cfg *Config) *Registry {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = 10 * time.Second
	}

	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 30 * time.Second
	}

	return &Registry{
		reporter:       cfg.Reporter,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
		metrics:        m,
		jobTimeout:     jobTimeout,
		reportTimeout:  reportTimeout,
		publishTimeout: publishTimeout,
		handlers:       make(map[string]Handler),
	}
}

// Register binds a handler to a task type. A second registration for the
// same task type is a configuration error.
func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %s must not be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateHandler, taskType)
	}
	r.handlers[taskType] = h

	r.logger.Debug("Handler registered", slog.String("task_type", taskType))
	return nil
}

// MustRegister is Register that panics on error; for startup wiring
func (r *Registry) MustRegister(taskType string, h Handler) {
	if err := r.Register(taskType, h); err != nil {
		panic(err)
	}
}

// TaskTypes returns the registered task types in sorted order
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Dispatch runs the job's handler and reports exactly one outcome. The
// returned error concerns the report itself: nil when the engine accepted
// the outcome, a stale error when the job was no longer active, and a
// retryable error when the engine could not be reached.
func (r *Registry) Dispatch(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	r.metrics.JobStarted()
	defer r.metrics.JobFinished()

	log := r.logger.With(
		slog.String("job_key", job.Key),
		slog.String("task_type", job.Type),
		slog.String("process_instance_key", job.ProcessInstanceKey),
	)
	log.Info("Job received", slog.Uint64("retries", uint64(job.Retries)))

	attempt := r.reporter.Begin(job)

	// reports must reach the engine even while the worker shuts down
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.reportTimeout)
	defer cancel()

	h, ok := r.lookup(job.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrUnknownTaskType, job.Type)
		log.Error("No handler for job", slog.String("error", err.Error()))
		return attempt.Fail(reportCtx, err.Error())
	}

	started := time.Now()
	result, err := r.invoke(ctx, h, job, log)
	duration := time.Since(started)

	if err != nil {
		if be, ok := domain.AsBusinessError(err); ok {
			log.Info("Handler raised business error",
				slog.String("code", be.Code),
				slog.Duration("duration", duration),
			)
			return attempt.BusinessError(reportCtx, be.Code, be.Message)
		}

		log.Error("Handler failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return attempt.Fail(reportCtx, err.Error())
	}

	out, reportErr := attempt.Complete(reportCtx, result.Output)
	if reportErr != nil || len(result.Messages) == 0 {
		return out, reportErr
	}

	// published only after the engine accepted the completion; a failed
	// publish never changes the job's outcome
	pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer pubCancel()
	if err := r.publisher.PublishAll(pubCtx, result.Messages); err != nil {
		log.Error("Follow-up messages not fully delivered",
			slog.Int("messages", len(result.Messages)),
			slog.String("error", err.Error()),
		)
	}

	return out, nil
}

type invocation struct {
	result Result
	err    error
}

// invoke runs the handler under the job timeout. A panic becomes an error,
// and a handler still running at the deadline is abandoned: its late result
// is discarded.
func (r *Registry) invoke(ctx context.Context, h Handler, job domain.Job, log *slog.Logger) (Result, error) {
	hctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()
	if !job.Deadline.IsZero() {
		var dcancel context.CancelFunc
		hctx, dcancel = context.WithDeadline(hctx, job.Deadline)
		defer dcancel()
	}

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Handler panicked",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				done <- invocation{err: fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)}
			}
		}()
		res, err := h.Handle(hctx, job)
		done <- invocation{result: res, err: err}
	}()

	select {
	case inv := <-done:
		return inv.result, inv.err
	case <-hctx.Done():
		return Result{}, fmt.Errorf("%w: %v", domain.ErrHandlerTimeout, hctx.Err())
	}
}
