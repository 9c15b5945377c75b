// Package amqpgw talks to the workflow engine over RabbitMQ: job activations
// are consumed from the worker's queue and engine commands are published to
// the shared exchange.
package amqpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Broker is the part of the RabbitMQ client the gateway uses
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Config holds gateway dependencies
type Config struct {
	Broker      Broker
	Logger      *slog.Logger
	ConsumerTag string
}

// Gateway implements engine.Engine on top of a RabbitMQ broker. Commands are
// fire-and-forget: the broker accepting a command is the engine accepting it.
type Gateway struct {
	broker      Broker
	logger      *slog.Logger
	consumerTag string
}

var _ engine.Engine = (*Gateway)(nil)

// New creates a gateway
func New(cfg *Config) *Gateway {
	return &Gateway{
		broker:      cfg.Broker,
		logger:      cfg.Logger,
		consumerTag: cfg.ConsumerTag,
	}
}

// CompleteJob publishes a complete command
func (g *Gateway) CompleteJob(ctx context.Context, jobKey string, vars variables.Bag) error {
	return g.send(ctx, RouteComplete, completeCommand{JobKey: jobKey, Variables: vars})
}

// FailJob publishes a fail command
func (g *Gateway) FailJob(ctx context.Context, jobKey string, retries uint, reason string) error {
	return g.send(ctx, RouteFail, failCommand{JobKey: jobKey, Retries: retries, ErrorMessage: reason})
}

// ThrowError publishes a throw-error command
func (g *Gateway) ThrowError(ctx context.Context, jobKey, code, message string) error {
	return g.send(ctx, RouteThrowError, throwErrorCommand{JobKey: jobKey, ErrorCode: code, ErrorMessage: message})
}

// PublishMessage publishes a publish-message command
func (g *Gateway) PublishMessage(ctx context.Context, msg domain.CorrelatedMessage) error {
	return g.send(ctx, RoutePublishMessage, publishMessageCommand{
		Name:           msg.Name,
		CorrelationKey: msg.CorrelationKey,
		Variables:      msg.Payload,
	})
}

func (g *Gateway) send(ctx context.Context, routingKey string, cmd any) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", routingKey, err)
	}
	if err := g.broker.PublishWithRetry(ctx, routingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}
	return nil
}

// Activate consumes activations from the worker's queue. The queue bindings
// decide which task types arrive; taskTypes is only logged. Malformed
// activations are dropped without requeue so the broker dead-letters them.
func (g *Gateway) Activate(ctx context.Context, taskTypes []string) (<-chan *engine.Activation, error) {
	deliveries, err := g.broker.Consume(g.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}

	g.logger.Info("Activation stream started",
		slog.String("consumer_tag", g.consumerTag),
		slog.Any("task_types", taskTypes),
	)

	out := make(chan *engine.Activation)
	go g.stream(ctx, deliveries, out)
	return out, nil
}

func (g *Gateway) stream(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- *engine.Activation) {
	defer close(out)
	defer func() {
		if err := g.broker.Cancel(g.consumerTag); err != nil {
			g.logger.Warn("Failed to cancel consumer", slog.String("error", err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Activation stream stopped - context canceled")
			return

		case d, ok := <-deliveries:
			if !ok {
				g.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			job, err := DecodeActivation(d.Body)
			if err != nil {
				g.logger.Error("Dropping malformed activation",
					slog.String("error", err.Error()),
					slog.String("routing_key", d.RoutingKey),
				)
				if nackErr := d.Nack(false, false); nackErr != nil {
					g.logger.Error("Failed to NACK malformed activation", slog.String("error", nackErr.Error()))
				}
				continue
			}

			act := engine.NewActivation(job,
				func() error { return d.Ack(false) },
				func(requeue bool) error { return d.Nack(false, requeue) },
			)

			select {
			case out <- act:
			case <-ctx.Done():
				// not handed to any worker; give it back
				if nackErr := d.Nack(false, true); nackErr != nil {
					g.logger.Error("Failed to NACK activation on shutdown",
						slog.String("job_key", job.Key),
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
