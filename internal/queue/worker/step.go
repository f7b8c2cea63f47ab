package worker

import (
	"context"
	"time"

	"github.com/geocoder89/taskintegrator/internal/pipeline"
)

// RunOnce performs one collection and records its outcome.
func (w *Worker) RunOnce(ctx context.Context) (pipeline.CollectResult, error) {
	w.metrics.IncRuns()

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	res, err := w.collector.CollectResults(runCtx)
	w.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		w.metrics.IncFailed()
		w.log.ErrorContext(ctx, "worker.run_failed", "kind", pipeline.Kind(err), "err", err)
		return res, err
	}

	w.metrics.AddRepublished(res.RepublishedCount)
	w.metrics.AddRetained(res.Retained)
	w.metrics.MarkSuccess(time.Now())

	if len(res.Failures) > 0 {
		w.log.WarnContext(ctx, "worker.run_partial",
			"republished", res.RepublishedCount,
			"retained", res.Retained,
			"failures", len(res.Failures),
		)
	}
	return res, nil
}
