package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
)

// processJob dispatches one job. The returned error concerns the outcome
// report only; handler failures are outcomes, not errors.
func (w *Worker) processJob(ctx context.Context, act *engine.Activation) error {
	out, err := w.registry.Dispatch(ctx, act.Job)
	if err != nil {
		return err
	}

	w.logger.Debug("Job processed",
		slog.String("job_key", act.Job.Key),
		slog.String("outcome", string(out.Kind)),
	)
	return nil
}
