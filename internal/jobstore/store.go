// Package jobstore persists transcription jobs and the queue that feeds the
// workers. A Store composes a Records backend (memory or Postgres) with a
// Queue backend (memory or RabbitMQ) and owns every job state transition.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/metrics"
	"github.com/google/uuid"
)

// DefaultTTL is the sliding lifetime of a job record.
const DefaultTTL = 24 * time.Hour

const lockStripes = 64

// Records stores whole job records with a sliding expiry.
//
// Get returns a JOB_NOT_FOUND error for ids that were never issued and a
// JOB_EXPIRED error for ids whose record has outlived its TTL.
type Records interface {
	// Create writes job and then runs enqueue inside the same write scope.
	// If enqueue fails the record is rolled back.
	Create(ctx context.Context, job *domain.Job, ttl time.Duration, enqueue func(context.Context) error) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Put overwrites an existing, unexpired record and resets its expiry.
	Put(ctx context.Context, job *domain.Job, ttl time.Duration) error
	// Touch resets the expiry without rewriting the record.
	Touch(ctx context.Context, id string, ttl time.Duration) error
	// List returns up to filter.PageSize+1 unexpired records, newest first.
	List(ctx context.Context, filter ListFilter) ([]*domain.Job, error)
	// PurgeExpired drops the payload of expired records and keeps a tombstone.
	PurgeExpired(ctx context.Context) (int64, error)
	HealthCheck(ctx context.Context) error
}

// Queue is a FIFO of job ids. Pop must hand each entry to exactly one caller.
type Queue interface {
	Push(ctx context.Context, id string) error
	Pop(ctx context.Context) (string, bool, error)
	Len(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

// Notifier delivers the terminal state of a job to its webhook.
type Notifier interface {
	Notify(ctx context.Context, job *domain.Job) error
}

// Config tunes a Store. Zero values fall back to defaults.
type Config struct {
	TTL   time.Duration
	Now   func() time.Time
	NewID func() string
}

// CreateRequest describes a new asynchronous job.
type CreateRequest struct {
	Type       domain.JobType
	InputRef   string
	MediaRef   string
	Params     domain.JobParams
	WebhookURL string
	Owner      string
}

// Store is the job lifecycle API used by the orchestrator, the HTTP handlers
// and the workers.
type Store struct {
	records  Records
	queue    Queue
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	locks      [lockStripes]sync.Mutex
	deliveries sync.WaitGroup
}

// New composes a Store. notifier may be nil, in which case no webhooks are sent.
func New(records Records, queue Queue, notifier Notifier, cfg Config, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records:  records,
		queue:    queue,
		notifier: notifier,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		newID:    cfg.NewID,
		logger:   logger,
	}
}

// TTL returns the sliding record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// CreateJob persists a queued job and appends it to the queue as one unit.
func (s *Store) CreateJob(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	// Postgres keeps microseconds; truncating keeps list cursors exact.
	now := s.now().UTC().Truncate(time.Microsecond)
	job := domain.NewJob(s.newID(), req.Type, req.InputRef, req.Params, req.WebhookURL, now)
	job.MediaRef = req.MediaRef
	job.Owner = req.Owner

	err := s.records.Create(ctx, job, s.ttl, func(ctx context.Context) error {
		return s.queue.Push(ctx, job.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	metrics.IncJobStatus(string(domain.JobStatusQueued))
	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)
	return job, nil
}

// GetJob returns the current record for id.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.records.Get(ctx, id)
}

// UpdateJob writes the whole record back, bumping updated_at and the TTL.
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = s.now().UTC()
	if err := s.records.Put(ctx, job, s.ttl); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

// Touch extends the record's lifetime while a worker holds it.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.records.Touch(ctx, id, s.ttl)
}

// DequeueNext pops the oldest queued id. ok is false when the queue is empty.
func (s *Store) DequeueNext(ctx context.Context) (string, bool, error) {
	id, ok, err := s.queue.Pop(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return id, ok, nil
}

// Requeue pushes id back onto the queue after a claim that failed for a
// reason unrelated to the job itself.
func (s *Store) Requeue(ctx context.Context, id string) error {
	if err := s.queue.Push(ctx, id); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// QueueLength reports the number of ids waiting in the queue.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetQueueDepth(n)
	return n, nil
}

// StartJob moves a queued job to processing under workerID.
func (s *Store) StartJob(ctx context.Context, id, workerID string) (*domain.Job, error) {
	return s.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.MarkProcessing(workerID, now)
	})
}

// UpdateProgress raises the job's progress. Progress never reaches 100 here.
func (s *Store) UpdateProgress(ctx context.Context, id string, pct float64) error {
	_, err := s.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.UpdateProgress(pct, now)
	})
	return err
}

// CompleteJob stores result and fires the webhook.
func (s *Store) CompleteJob(ctx context.Context, id string, result *domain.Result) (*domain.Job, error) {
	return s.finish(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.MarkCompleted(result, now)
	})
}

// FailJob stores jobErr and fires the webhook.
func (s *Store) FailJob(ctx context.Context, id string, jobErr *domain.JobError) (*domain.Job, error) {
	return s.finish(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.MarkFailed(jobErr, now)
	})
}

// CancelJob fails an unfinished job with JOB_CANCELLED. Cancelling a finished
// job returns JOB_ALREADY_FINISHED and leaves the record untouched.
func (s *Store) CancelJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.finish(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.Cancel(now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Job cancelled", slog.String("job_id", id))
	return job, nil
}

// ListJobs returns one page of jobs matching filter.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) (*ListPage, error) {
	filter.PageSize = ClampPageSize(filter.PageSize)

	jobs, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	page := &ListPage{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		page.HasMore = true
		last := page.Jobs[len(page.Jobs)-1]
		page.NextCursor = EncodeCursor(&Cursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	if page.Jobs == nil {
		page.Jobs = []*domain.Job{}
	}
	return page, nil
}

// PurgeExpired drops the payload of expired records.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	return s.records.PurgeExpired(ctx)
}

// HealthCheck verifies both backends.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.records.HealthCheck(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if err := s.queue.HealthCheck(ctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	return nil
}

// Wait blocks until in-flight webhook deliveries have finished.
func (s *Store) Wait() {
	s.deliveries.Wait()
}

func (s *Store) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// mutate runs a read-modify-write of the full record. Mutations of the same id
// are serialised within this process.
func (s *Store) mutate(ctx context.Context, id string, fn func(*domain.Job, time.Time) error) (*domain.Job, error) {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) finish(ctx context.Context, id string, fn func(*domain.Job, time.Time) error) (*domain.Job, error) {
	job, err := s.mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}

	metrics.IncJobStatus(string(job.Status))
	s.logger.Info("Job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	s.notify(job)
	return job, nil
}

// notify delivers the webhook in the background. A successful delivery is
// recorded on the job; failures are logged and never change the job status.
func (s *Store) notify(job *domain.Job) {
	if s.notifier == nil || job.WebhookURL == "" || job.WebhookSent {
		return
	}

	snapshot := *job
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		ctx := context.Background()

		if err := s.notifier.Notify(ctx, &snapshot); err != nil {
			metrics.IncWebhook("failed")
			s.logger.Warn("Webhook delivery failed",
				slog.String("job_id", snapshot.ID),
				slog.String("webhook_url", snapshot.WebhookURL),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.IncWebhook("delivered")

		if err := s.markWebhookSent(ctx, snapshot.ID); err != nil {
			s.logger.Warn("Failed to record webhook delivery",
				slog.String("job_id", snapshot.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("Webhook delivered",
			slog.String("job_id", snapshot.ID),
			slog.String("status", string(snapshot.Status)),
		)
	}()
}

func (s *Store) markWebhookSent(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.records.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.WebhookSent {
		return nil
	}
	job.WebhookSent = true
	return s.UpdateJob(ctx, job)
}

// IsStale reports whether err means a queued id no longer has a live record.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrJobExpired)
}
