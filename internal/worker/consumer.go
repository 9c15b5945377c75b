package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
)

// startMessageDispatcher hands activations to the worker pool. The jobs
// channel is unbuffered, so the subscription only advances when a goroutine
// is free to take the job.
func (w *Worker) startMessageDispatcher(ctx context.Context, activations <-chan *engine.Activation) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case act, ok := <-activations:
			if !ok {
				w.logger.Warn("Activation channel closed")
				return
			}

			select {
			case w.jobsChan <- act:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_key", act.Job.Key),
					slog.String("task_type", act.Job.Type),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// give the job back so it can be reprocessed
				if nackErr := act.Nack(true); nackErr != nil {
					w.logger.Error("Failed to NACK job on shutdown",
						slog.String("job_key", act.Job.Key),
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
