// Package worker runs the loops that pull queued transcription jobs and
// drive them to a terminal state.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/transcription"
	"github.com/google/uuid"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultConcurrency       = 1
	DefaultJobTimeout        = 2 * time.Hour
	DefaultPollInterval      = time.Second
	DefaultErrorBackoff      = 5 * time.Second
	DefaultHeartbeatInterval = time.Minute
	DefaultJanitorInterval   = 10 * time.Minute
)

// JobStore is the part of the job store the worker uses.
type JobStore interface {
	DequeueNext(ctx context.Context) (string, bool, error)
	Requeue(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	StartJob(ctx context.Context, id, workerID string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, id string, pct float64) error
	CompleteJob(ctx context.Context, id string, result *domain.Result) (*domain.Job, error)
	FailJob(ctx context.Context, id string, jobErr *domain.JobError) (*domain.Job, error)
	Touch(ctx context.Context, id string) error
	QueueLength(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// JobRunner executes the transcription pipeline of one job.
type JobRunner interface {
	RunJob(ctx context.Context, job *domain.Job, progress transcription.ProgressFunc) (*domain.Result, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Runner            JobRunner
	WorkerID          string
	Concurrency       int
	JobTimeout        time.Duration
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	HeartbeatInterval time.Duration
	// JanitorInterval <= 0 disables the expired record purge.
	JanitorInterval time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	store             JobStore
	runner            JobRunner
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	pollInterval      time.Duration
	errorBackoff      time.Duration
	heartbeatInterval time.Duration
	janitorInterval   time.Duration
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		runner:            cfg.Runner,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		pollInterval:      cfg.PollInterval,
		errorBackoff:      cfg.ErrorBackoff,
		heartbeatInterval: cfg.HeartbeatInterval,
		janitorInterval:   cfg.JanitorInterval,
		stopChan:          make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.workerID == "" {
		w.workerID = "worker-" + uuid.NewString()[:8]
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = DefaultErrorBackoff
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = DefaultHeartbeatInterval
	}
	return w
}

// ID returns the identity recorded on jobs this worker processes.
func (w *Worker) ID() string {
	return w.workerID
}

// Start spawns the worker loops and blocks until ctx is cancelled or Stop is
// called. Cancelling ctx also aborts in-flight jobs, which are failed with
// PROCESSING_ERROR; Stop lets them finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("poll_interval", w.pollInterval),
	)

	w.spawnWorkerPool(ctx)
	if w.janitorInterval > 0 {
		w.wg.Add(1)
		go w.runJanitor(ctx)
	}

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	w.wg.Wait()
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
