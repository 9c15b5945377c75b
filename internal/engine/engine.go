// Package engine defines the boundary between the worker runtime and the
// workflow engine that owns jobs and process state.
package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

var (
	// ErrJobNotActive is returned when a command targets a job whose lease was
	// revoked, cancelled, or already resolved
	ErrJobNotActive = errors.New("job is no longer active")

	// ErrNoMatchingInstance is returned when a published message found no
	// process instance waiting on its name and correlation key
	ErrNoMatchingInstance = errors.New("no process instance waiting for message")

	// ErrUnavailable is returned when the engine cannot be reached
	ErrUnavailable = errors.New("engine unavailable")
)

// Client sends job outcomes and correlated messages to the engine
type Client interface {
	CompleteJob(ctx context.Context, jobKey string, vars variables.Bag) error
	FailJob(ctx context.Context, jobKey string, retries uint, reason string) error
	ThrowError(ctx context.Context, jobKey, code, message string) error
	PublishMessage(ctx context.Context, msg domain.CorrelatedMessage) error
}

// Subscriber streams activated jobs for a set of task types. The returned
// channel is closed when ctx is cancelled or the subscription ends.
type Subscriber interface {
	Activate(ctx context.Context, taskTypes []string) (<-chan *Activation, error)
}

// Engine is a full engine connection
type Engine interface {
	Client
	Subscriber
}

// Activation is a job handed to the worker together with its lease. Exactly
// one of Ack or Nack must be called; later calls are no-ops.
type Activation struct {
	Job domain.Job

	ack  func() error
	nack func(requeue bool) error
	done atomic.Bool
}

// NewActivation wraps a job with the transport callbacks that release its lease
func NewActivation(job domain.Job, ack func() error, nack func(requeue bool) error) *Activation {
	return &Activation{Job: job, ack: ack, nack: nack}
}

// Ack releases the lease after an outcome was reported
func (a *Activation) Ack() error {
	if !a.done.CompareAndSwap(false, true) || a.ack == nil {
		return nil
	}
	return a.ack()
}

// Nack hands the job back to the engine. With requeue it is redelivered;
// without it the delivery is dropped (dead-lettered by the transport).
func (a *Activation) Nack(requeue bool) error {
	if !a.done.CompareAndSwap(false, true) || a.nack == nil {
		return nil
	}
	return a.nack(requeue)
}
