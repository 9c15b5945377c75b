// Package outcome reports job results to the engine. Each job attempt gets
// an Attempt handle that accepts exactly one outcome.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Config holds reporter dependencies
type Config struct {
	Client  engine.Client
	Logger  *slog.Logger
	Metrics *metrics.Counters
}

// Reporter translates outcomes into engine commands
type Reporter struct {
	client  engine.Client
	logger  *slog.Logger
	metrics *metrics.Counters
}

// NewReporter creates a new Reporter
func NewReporter(cfg *Config) *Reporter {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Reporter{
		client:  cfg.Client,
		logger:  cfg.Logger,
		metrics: m,
	}
}

// Attempt is the reporting handle for one delivery of a job
type Attempt struct {
	reporter *Reporter
	job      domain.Job
	reported atomic.Bool
}

// Begin opens the reporting handle for a job attempt
func (r *Reporter) Begin(job domain.Job) *Attempt {
	return &Attempt{reporter: r, job: job}
}

// Reported reports whether an outcome was already sent for this attempt
func (a *Attempt) Reported() bool {
	return a.reported.Load()
}

// Complete sends the output variables to the engine
func (a *Attempt) Complete(ctx context.Context, output variables.Bag) (domain.Outcome, error) {
	out := domain.Completed(output)
	return out, a.send(ctx, out, func() error {
		return a.reporter.client.CompleteJob(ctx, a.job.Key, output)
	})
}

// Fail hands the job back with its retry budget decremented, floored at zero
func (a *Attempt) Fail(ctx context.Context, reason string) (domain.Outcome, error) {
	out := domain.Failed(domain.DecrementRetries(a.job.Retries), reason)
	return out, a.send(ctx, out, func() error {
		return a.reporter.client.FailJob(ctx, a.job.Key, out.RetriesRemaining, reason)
	})
}

// BusinessError raises a named error event in the process instance
func (a *Attempt) BusinessError(ctx context.Context, code, message string) (domain.Outcome, error) {
	out := domain.BusinessErrorOutcome(code, message)
	return out, a.send(ctx, out, func() error {
		return a.reporter.client.ThrowError(ctx, a.job.Key, code, message)
	})
}

func (a *Attempt) send(ctx context.Context, out domain.Outcome, call func() error) error {
	r := a.reporter
	log := r.logger.With(
		slog.String("job_key", a.job.Key),
		slog.String("task_type", a.job.Type),
		slog.String("outcome", string(out.Kind)),
	)

	if !a.reported.CompareAndSwap(false, true) {
		log.Error("Outcome already reported for job attempt")
		return fmt.Errorf("%w: %s", domain.ErrOutcomeAlreadyReported, a.job.Key)
	}

	err := call()
	switch {
	case err == nil:
		r.metrics.OutcomeReported(out.Kind)
		log.Info("Outcome reported",
			slog.Uint64("retries_remaining", uint64(out.RetriesRemaining)),
		)
		return nil

	case errors.Is(err, engine.ErrJobNotActive):
		r.metrics.StaleReport()
		log.Warn("Outcome rejected, job no longer active",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("report %s: %w", out.Kind, err)

	default:
		r.metrics.ReportError()
		log.Error("Failed to report outcome",
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("report %s: %w", out.Kind, err))
	}
}

// IsStale reports whether a report error means the job was no longer active
func IsStale(err error) bool {
	return errors.Is(err, engine.ErrJobNotActive)
}
