package jobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, job *domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, *job)
	return n.err
}

func (n *recordingNotifier) calls() []domain.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Job(nil), n.jobs...)
}

type failingQueue struct {
	MemoryQueue
}

func (q *failingQueue) Push(context.Context, string) error {
	return errors.New("broker unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store    *Store
	records  *MemoryRecords
	queue    *MemoryQueue
	clock    *fakeClock
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, ttl time.Duration) *testEnv {
	t.Helper()
	clock := newFakeClock()
	records := NewMemoryRecords(clock.Now, 0)
	queue := NewMemoryQueue()
	notifier := &recordingNotifier{}
	store := New(records, queue, notifier, Config{TTL: ttl, Now: clock.Now}, discardLogger())
	t.Cleanup(store.Wait)
	return &testEnv{store: store, records: records, queue: queue, clock: clock, notifier: notifier}
}

func createJob(t *testing.T, env *testEnv, webhook string) *domain.Job {
	t.Helper()
	job, err := env.store.CreateJob(context.Background(), CreateRequest{
		Type:       domain.JobTypeMediaURL,
		InputRef:   "https://example.com/talk.mp3",
		Params:     domain.JobParams{Format: domain.FormatSRT},
		WebhookURL: webhook,
		Owner:      "owner-a",
	})
	require.NoError(t, err)
	return job
}

func TestStore_CreateJob(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()

	job := createJob(t, env, "")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Zero(t, job.Progress)
	assert.Equal(t, "owner-a", job.Owner)

	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, domain.FormatSRT, stored.Params.Format)

	n, err := env.store.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, ok, err := env.store.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, id)

	_, ok, err = env.store.DequeueNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CreateJobRollsBackWhenEnqueueFails(t *testing.T) {
	clock := newFakeClock()
	records := NewMemoryRecords(clock.Now, 0)
	store := New(records, &failingQueue{}, nil, Config{
		Now:   clock.Now,
		NewID: func() string { return "job-1" },
	}, discardLogger())

	_, err := store.CreateJob(context.Background(), CreateRequest{Type: domain.JobTypeMediaUpload})
	require.Error(t, err)

	_, err = store.GetJob(context.Background(), "job-1")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound), "got %v", err)
}

func TestStore_GetJobNotFoundVersusExpired(t *testing.T) {
	env := newTestEnv(t, 10*time.Second)
	ctx := context.Background()

	_, err := env.store.GetJob(ctx, "never-issued")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	job := createJob(t, env, "")
	env.clock.Advance(10 * time.Second)

	_, err = env.store.GetJob(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrJobExpired), "got %v", err)
	assert.Equal(t, domain.KindGone, domain.KindOf(err))

	purged, err := env.store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged, "expired record was already dropped on read")

	_, err = env.store.GetJob(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrJobExpired))
}

func TestStore_PurgeExpiredKeepsTombstones(t *testing.T) {
	env := newTestEnv(t, 10*time.Second)
	ctx := context.Background()

	first := createJob(t, env, "")
	second := createJob(t, env, "")
	env.clock.Advance(11 * time.Second)

	purged, err := env.store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	for _, id := range []string{first.ID, second.ID} {
		_, err := env.store.GetJob(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrJobExpired))
	}
}

func TestStore_PurgeExpiredDropsOldTombstones(t *testing.T) {
	clock := newFakeClock()
	store := New(NewMemoryRecords(clock.Now, time.Minute), NewMemoryQueue(), nil, Config{
		TTL: 10 * time.Second,
		Now: clock.Now,
	}, discardLogger())
	ctx := context.Background()

	old, err := store.CreateJob(ctx, CreateRequest{Type: domain.JobTypeMediaUpload})
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	recent, err := store.CreateJob(ctx, CreateRequest{Type: domain.JobTypeMediaUpload})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	clock.Advance(40 * time.Second)
	purged, err = store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.GetJob(ctx, old.ID)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound), "got %v", err)
	_, err = store.GetJob(ctx, recent.ID)
	assert.True(t, errors.Is(err, domain.ErrJobExpired), "got %v", err)
}

func TestStore_Requeue(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	job := createJob(t, env, "")

	id, ok, err := env.store.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.store.Requeue(ctx, id))

	id, ok, err = env.store.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, id)
}

func TestStore_TTLSlidesOnUpdate(t *testing.T) {
	env := newTestEnv(t, 10*time.Second)
	ctx := context.Background()

	job := createJob(t, env, "")

	env.clock.Advance(8 * time.Second)
	require.NoError(t, env.store.UpdateProgress(ctx, job.ID, 20))

	env.clock.Advance(8 * time.Second)
	require.NoError(t, env.store.Touch(ctx, job.ID))

	env.clock.Advance(8 * time.Second)
	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stored.Progress)
	assert.Equal(t, env.clock.Now().Add(-16*time.Second), stored.UpdatedAt)

	env.clock.Advance(3 * time.Second)
	err = env.store.Touch(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrJobExpired))
}

func TestStore_Lifecycle(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	job := createJob(t, env, "")

	started, err := env.store.StartJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, started.Status)
	assert.Equal(t, "worker-1", started.WorkerID)
	require.NotNil(t, started.StartedAt)

	require.NoError(t, env.store.UpdateProgress(ctx, job.ID, 50))
	require.NoError(t, env.store.UpdateProgress(ctx, job.ID, 30))
	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.Progress)

	require.NoError(t, env.store.UpdateProgress(ctx, job.ID, 150))
	stored, err = env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(domain.MaxActiveProgress), stored.Progress)

	result := domain.NewResult(domain.SourceLocal, "en", []domain.Segment{{Start: 0, End: 1.5, Text: "hello"}})
	done, err := env.store.CompleteJob(ctx, job.ID, result)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 100.0, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, "hello", done.Result.Transcript)
	assert.Nil(t, done.Error)

	_, err = env.store.FailJob(ctx, job.ID, &domain.JobError{Code: domain.CodeProcessingError, Message: "late"})
	assert.True(t, errors.Is(err, domain.ErrJobAlreadyFinished))

	err = env.store.UpdateProgress(ctx, job.ID, 10)
	assert.True(t, errors.Is(err, domain.ErrJobAlreadyFinished))

	stored, err = env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
}

func TestStore_CancelJob(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	job := createJob(t, env, "")

	cancelled, err := env.store.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, domain.CodeJobCancelled, cancelled.Error.Code)

	env.clock.Advance(time.Minute)
	_, err = env.store.CancelJob(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrJobAlreadyFinished))
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.UpdatedAt, stored.UpdatedAt, "a rejected cancel must not touch the record")

	// A worker that finishes after the cancel cannot overwrite it.
	_, err = env.store.CompleteJob(ctx, job.ID, domain.NewResult(domain.SourceLocal, "en", nil))
	assert.True(t, errors.Is(err, domain.ErrJobAlreadyFinished))
}

func TestStore_CancelUnknownJob(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	_, err := env.store.CancelJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestStore_WebhookDeliveredOnce(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	job := createJob(t, env, "https://hooks.example.com/done")

	_, err := env.store.FailJob(ctx, job.ID, &domain.JobError{Code: domain.CodeTranscriptionFailed, Message: "boom"})
	require.NoError(t, err)
	env.store.Wait()

	calls := env.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.JobStatusFailed, calls[0].Status)
	assert.Equal(t, domain.CodeTranscriptionFailed, calls[0].Error.Code)

	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.WebhookSent)

	_, err = env.store.CancelJob(ctx, job.ID)
	require.Error(t, err)
	env.store.Wait()
	assert.Len(t, env.notifier.calls(), 1)
}

func TestStore_WebhookFailureLeavesJobFinished(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.notifier.err = fmt.Errorf("webhook returned HTTP 500")
	ctx := context.Background()
	job := createJob(t, env, "https://hooks.example.com/done")

	_, err := env.store.StartJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	_, err = env.store.CompleteJob(ctx, job.ID, domain.NewResult(domain.SourceCaptions, "en", nil))
	require.NoError(t, err)
	env.store.Wait()

	assert.Len(t, env.notifier.calls(), 1)
	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.False(t, stored.WebhookSent)
}

func TestStore_NoWebhookWithoutURL(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	job := createJob(t, env, "")

	_, err := env.store.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	env.store.Wait()

	assert.Empty(t, env.notifier.calls())
}

func TestStore_ListJobs(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, createJob(t, env, "").ID)
		env.clock.Advance(time.Second)
	}
	_, err := env.store.CreateJob(ctx, CreateRequest{Type: domain.JobTypeMediaUpload, Owner: "owner-b"})
	require.NoError(t, err)

	page, err := env.store.ListJobs(ctx, ListFilter{Owner: "owner-a", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[4], page.Jobs[0].ID)
	assert.Equal(t, ids[3], page.Jobs[1].ID)

	cursor, err := DecodeCursor(page.NextCursor)
	require.NoError(t, err)

	var seen []string
	for cursor != nil {
		page, err = env.store.ListJobs(ctx, ListFilter{Owner: "owner-a", PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, job := range page.Jobs {
			seen = append(seen, job.ID)
		}
		cursor, err = DecodeCursor(page.NextCursor)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, seen)

	_, err = env.store.CancelJob(ctx, ids[0])
	require.NoError(t, err)
	page, err = env.store.ListJobs(ctx, ListFilter{Owner: "owner-a", Status: domain.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, ids[0], page.Jobs[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestStore_HealthCheck(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	assert.NoError(t, env.store.HealthCheck(context.Background()))
}
