// Package worker runs the result collector on a schedule.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/geocoder89/taskintegrator/internal/pipeline"
)

type Collector interface {
	CollectResults(ctx context.Context) (pipeline.CollectResult, error)
}

type Config struct {
	// Interval separates successful runs.
	Interval time.Duration
	// RunTimeout bounds one run, all poll rounds included.
	RunTimeout time.Duration
	WorkerID   string
}

type Worker struct {
	cfg       Config
	collector Collector
	metrics   *observability.RunMetrics
	log       *slog.Logger

	readyMu sync.RWMutex
	ready   bool

	// consecutive failed runs, only touched by the Run goroutine
	failures int
	backoff  func(attempt int) time.Duration
}

func New(cfg Config, collector Collector, metrics *observability.RunMetrics, log *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if metrics == nil {
		metrics = observability.NewRunMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		log:       log.With("worker_id", cfg.WorkerID),
		backoff:   ExponentialBackoff,
	}
}

// Run collects immediately and then on every interval until ctx is done.
// After a failed run the next one is delayed by an exponential backoff
// instead of the interval.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	w.log.InfoContext(ctx, "worker.started", "interval", w.cfg.Interval.String())

	for {
		_, err := w.RunOnce(ctx)
		delay := w.nextDelay(err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.InfoContext(ctx, "worker.stopping")
			return nil
		case <-timer.C:
		}
	}
}

func (w *Worker) nextDelay(err error) time.Duration {
	if err == nil {
		w.failures = 0
		return w.cfg.Interval
	}
	w.failures++
	return w.backoff(w.failures - 1)
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) Ready() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

func (w *Worker) Metrics() *observability.RunMetrics {
	return w.metrics
}
