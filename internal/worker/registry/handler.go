package registry

import (
	"context"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Result is what a handler produces on success: the output variables to
// complete the job with, and any messages to publish once the completion
// was accepted.
type Result struct {
	Output   variables.Bag
	Messages []domain.CorrelatedMessage
}

// Handler runs the domain logic for one task type. It never talks to the
// engine; returning a *domain.BusinessError raises a business error event,
// any other error fails the job.
type Handler interface {
	Handle(ctx context.Context, job domain.Job) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, job domain.Job) (Result, error)

// Handle calls f(ctx, job)
func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) (Result, error) {
	return f(ctx, job)
}
