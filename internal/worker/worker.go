// Package worker runs the job loop: one subscription feeds an unbuffered jobs
// channel read by a fixed number of goroutines, each handing its job to the
// registry and settling the lease afterwards.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
)

// ErrSubscriptionClosed is returned by Start when the engine ended the
// activation stream before the worker was stopped
var ErrSubscriptionClosed = errors.New("activation stream closed")

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Subscriber  engine.Subscriber
	Registry    *registry.Registry
	Concurrency int
	// WorkerID prefixes goroutine names in logs; generated when empty
	WorkerID string
}

// Worker represents the background job worker
type Worker struct {
	logger      *slog.Logger
	subscriber  engine.Subscriber
	registry    *registry.Registry
	concurrency int
	workerID    string

	jobsChan chan *engine.Activation
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	return &Worker{
		logger:      cfg.Logger,
		subscriber:  cfg.Subscriber,
		registry:    cfg.Registry,
		concurrency: concurrency,
		workerID:    workerID,
		jobsChan:    make(chan *engine.Activation),
		stopChan:    make(chan struct{}),
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() string {
	return w.workerID
}

// Start subscribes to every registered task type and processes jobs until
// ctx is cancelled or Stop is called. Jobs already handed to a goroutine run
// to completion before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	taskTypes := w.registry.TaskTypes()
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("task_types", len(taskTypes)),
	)

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()

	activations, err := w.subscriber.Activate(subCtx, taskTypes)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	// in-flight jobs finish even after shutdown begins
	w.spawnWorkerPool(context.WithoutCancel(ctx))

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer close(w.jobsChan)
		w.startMessageDispatcher(subCtx, activations)
	}()

	var result error
	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
		w.logger.Info("Worker stop requested")
	case <-streamDone:
		result = ErrSubscriptionClosed
	}

	cancelSub()
	<-streamDone
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return result
}

// Stop asks a running Start to drain and return
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
