package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/outcome"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop takes jobs until the jobs channel is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for act := range w.jobsChan {
		err := w.processJob(ctx, act)
		w.settle(workerName, act, err)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed", slog.String("worker_name", workerName))
}

// settle releases the job's lease. The outcome was reported or is stale:
// ack. The report did not reach the engine: nack for redelivery.
func (w *Worker) settle(workerName string, act *engine.Activation, err error) {
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_key", act.Job.Key),
	)

	if err == nil || outcome.IsStale(err) {
		if ackErr := act.Ack(); ackErr != nil {
			log.Error("Failed to ACK job", slog.String("error", ackErr.Error()))
		}
		return
	}

	requeue := shouldRequeueJob(err)
	log.Error("Job outcome not reported",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)
	if nackErr := act.Nack(requeue); nackErr != nil {
		log.Error("Failed to NACK job", slog.String("error", nackErr.Error()))
	}
}

// shouldRequeueJob reports whether a job whose outcome could not be reported
// should be redelivered
func shouldRequeueJob(err error) bool {
	if outcome.IsStale(err) {
		return false
	}
	return domain.IsRetryable(err)
}
