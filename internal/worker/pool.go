package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"
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

// workerLoop pulls one job at a time until the worker stops. An empty queue
// is polled on a jittered interval so several workers do not poll in step.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Info("Worker goroutine started")

	ticker := jitterbug.New(w.pollInterval, &jitterbug.Norm{Stdev: w.pollInterval / 4})
	defer ticker.Stop()

	for {
		if w.stopping(ctx) {
			logger.Info("Worker goroutine stopping")
			return
		}

		jobID, ok, err := w.store.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("Failed to dequeue job, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.errorBackoff),
			)
			w.sleep(ctx, w.errorBackoff)
			continue
		}

		if !ok {
			select {
			case <-ticker.C:
			case <-ctx.Done():
			case <-w.stopChan:
			}
			continue
		}

		w.processJob(ctx, workerName, jobID)
	}
}

// runJanitor periodically purges expired job records and samples the queue
// depth.
func (w *Worker) runJanitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := jitterbug.New(w.janitorInterval, &jitterbug.Norm{Stdev: w.janitorInterval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			purged, err := w.store.PurgeExpired(ctx)
			if err != nil {
				w.logger.Warn("Failed to purge expired jobs", slog.String("error", err.Error()))
			} else if purged > 0 {
				w.logger.Info("Purged expired jobs", slog.Int64("count", purged))
			}

			if n, err := w.store.QueueLength(ctx); err == nil {
				w.logger.Debug("Queue depth sampled", slog.Int("queue_depth", n))
			}
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}
