package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/jobstore"
)

// processJob claims one job, runs it under the job timeout and records the
// outcome. Nothing that happens inside a job escapes this function.
func (w *Worker) processJob(ctx context.Context, workerName, jobID string) {
	logger := w.logger.With(
		slog.String("job_id", jobID),
		slog.String("worker_name", workerName),
	)

	// Step 1: Claim the job (queued -> processing)
	job, err := w.store.StartJob(ctx, jobID, workerName)
	if err != nil {
		switch {
		case jobstore.IsStale(err):
			logger.Warn("Dropping stale queue entry", slog.String("reason", err.Error()))
		case errors.Is(err, domain.ErrJobAlreadyFinished):
			logger.Warn("Dropping queue entry for a finished job")
		case errors.Is(err, domain.ErrInvalidTransition):
			logger.Warn("Dropping duplicate queue entry for a claimed job")
		default:
			logger.Error("Failed to claim job, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.errorBackoff),
			)
			w.requeue(ctx, logger, jobID)
			w.sleep(ctx, w.errorBackoff)
		}
		return
	}

	logger.Info("Processing job",
		slog.String("job_type", string(job.Type)),
		slog.String("input_ref", job.InputRef),
	)
	start := time.Now()

	// Step 2: Bound the job by the configured timeout
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	// Step 3: Keep the record alive while the job runs
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, jobID, heartbeatDone)

	// Step 4: Run the pipeline
	result, err := w.executeJob(jobCtx, job)
	close(heartbeatDone)

	// Step 5: Finalise. The writes must land even when ctx was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		w.failJob(finalCtx, logger, job.ID, w.jobError(ctx, jobCtx, err))
		return
	}

	if _, err := w.store.CompleteJob(finalCtx, job.ID, result); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyFinished) {
			logger.Warn("Job was cancelled while processing, result discarded")
			return
		}
		logger.Error("Failed to update job status to COMPLETED", slog.String("error", err.Error()))
		return
	}

	logger.Info("Job completed successfully",
		slog.Duration("elapsed", time.Since(start)),
		slog.String("source", string(result.Source)),
	)
}

// requeue returns an unclaimed id to the queue so the job is not lost with
// the entry the broker already handed out.
func (w *Worker) requeue(ctx context.Context, logger *slog.Logger, jobID string) {
	if err := w.store.Requeue(context.WithoutCancel(ctx), jobID); err != nil {
		logger.Error("Failed to requeue job", slog.String("error", err.Error()))
	}
}

// executeJob runs the pipeline and turns a panic into an error.
func (w *Worker) executeJob(ctx context.Context, job *domain.Job) (result *domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while processing job",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("panic while processing job: %v", r)
		}
	}()

	return w.runner.RunJob(ctx, job, func(ctx context.Context, pct float64) error {
		return w.store.UpdateProgress(ctx, job.ID, pct)
	})
}

// jobError converts a pipeline error into the payload stored on the job.
func (w *Worker) jobError(ctx, jobCtx context.Context, err error) *domain.JobError {
	switch {
	case errors.Is(err, domain.ErrJobAlreadyFinished):
		return nil
	case ctx.Err() != nil:
		return &domain.JobError{
			Code:    domain.CodeProcessingError,
			Message: "Worker shut down before the job finished",
		}
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return domain.JobErrorFrom(domain.NewTranscriptionError(
			fmt.Sprintf("job exceeded the %s time limit", w.jobTimeout), err))
	}
	return domain.JobErrorFrom(err)
}

func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, jobID string, jobErr *domain.JobError) {
	if jobErr == nil {
		logger.Warn("Job was cancelled while processing")
		return
	}

	logger.Error("Job execution failed",
		slog.String("code", jobErr.Code),
		slog.String("error", jobErr.Message),
	)

	if _, err := w.store.FailJob(ctx, jobID, jobErr); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyFinished) {
			logger.Warn("Job was cancelled while processing")
			return
		}
		logger.Error("Failed to update job status to FAILED", slog.String("error", err.Error()))
	}
}

// sendJobHeartbeat extends the job record's TTL until done is closed.
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Touch(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
