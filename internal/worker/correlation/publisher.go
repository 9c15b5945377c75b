// Package correlation publishes correlated messages that resume a waiting
// branch of a process instance.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
)

// ErrInvalidMessage is returned for messages without a name or correlation key
var ErrInvalidMessage = errors.New("invalid correlated message")

// Config holds publisher settings
type Config struct {
	Client            engine.Client
	Logger            *slog.Logger
	Metrics           *metrics.Counters
	RetryAttempts     int
	RetryInterval     time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
}

// Publisher sends messages to the engine with bounded retries
type Publisher struct {
	client      engine.Client
	logger      *slog.Logger
	metrics     *metrics.Counters
	retries     int
	interval    time.Duration
	multiplier  float64
	maxInterval time.Duration
}

// NewPublisher creates a new Publisher
func NewPublisher(cfg *Config) *Publisher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	retries := cfg.RetryAttempts
	if retries < 0 {
		retries = 0
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 2.0
	}

	return &Publisher{
		client:      cfg.Client,
		logger:      cfg.Logger,
		metrics:     m,
		retries:     retries,
		interval:    interval,
		multiplier:  mult,
		maxInterval: cfg.MaxInterval,
	}
}

// Publish delivers msg to the engine. Transport errors are retried up to the
// configured number of times; a message no instance is waiting for is
// reported as a correlation miss straight away.
func (p *Publisher) Publish(ctx context.Context, msg domain.CorrelatedMessage) error {
	log := p.logger.With(
		slog.String("message_name", msg.Name),
		slog.String("correlation_key", msg.CorrelationKey),
	)

	if msg.Name == "" || msg.CorrelationKey == "" {
		p.metrics.CorrelationError()
		log.Error("Refusing to publish message without name or correlation key")
		return fmt.Errorf("%w: name=%q correlation_key=%q", ErrInvalidMessage, msg.Name, msg.CorrelationKey)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		err := p.client.PublishMessage(ctx, msg)
		if err == nil {
			p.metrics.CorrelationPublished()
			log.Info("Correlated message published",
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		if errors.Is(err, engine.ErrNoMatchingInstance) {
			p.metrics.CorrelationMiss()
			log.Error("Correlation miss, no process instance is waiting for message",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %w", domain.ErrCorrelationMiss, err)
		}

		lastErr = err

		if attempt < p.retries {
			delay := p.Delay(attempt)
			log.Warn("Failed to publish correlated message, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", p.retries),
				slog.Duration("retry_after", delay),
				slog.String("error", err.Error()),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				p.metrics.CorrelationError()
				return fmt.Errorf("publish %s canceled: %w", msg.Name, ctx.Err())
			}
		}
	}

	p.metrics.CorrelationError()
	log.Error("Failed to publish correlated message after all retries",
		slog.Int("attempts", p.retries+1),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("publish %s after %d attempts: %w", msg.Name, p.retries+1, lastErr)
}

// PublishAll publishes each message in order. Failures are logged by Publish
// and joined into the returned error; one failure does not stop the rest.
func (p *Publisher) PublishAll(ctx context.Context, msgs []domain.CorrelatedMessage) error {
	var errs []error
	for _, msg := range msgs {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delay returns the wait before retry n (0-indexed): interval * multiplier^n,
// capped at the configured maximum.
func (p *Publisher) Delay(n int) time.Duration {
	d := time.Duration(float64(p.interval) * math.Pow(p.multiplier, float64(n)))
	if p.maxInterval > 0 && d > p.maxInterval {
		return p.maxInterval
	}
	return d
}
