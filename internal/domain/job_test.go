package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestJob() *Job {
	return NewJob("job-1", JobTypeMediaURL, "https://example.com/a.mp3", JobParams{Format: FormatSRT}, "", testNow)
}

func TestNewJob(t *testing.T) {
	job := newTestJob()

	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.False(t, job.WebhookSent)
	assert.Equal(t, testNow, job.CreatedAt)
	assert.Equal(t, testNow, job.UpdatedAt)
}

func TestJob_MarkProcessing(t *testing.T) {
	job := newTestJob()
	started := testNow.Add(time.Second)

	require.NoError(t, job.MarkProcessing("worker-7", started))

	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, "worker-7", job.WorkerID)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
}

func TestJob_MarkProcessingTwice(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkProcessing("worker-1", testNow))

	err := job.MarkProcessing("worker-2", testNow)
	require.Error(t, err)
	assert.Equal(t, "worker-1", job.WorkerID)
}

func TestJob_MarkCompleted(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkProcessing("w", testNow))
	require.NoError(t, job.UpdateProgress(90, testNow))

	result := NewResult(SourceLocal, "en", []Segment{{Start: 0, End: 1, Text: "hi"}})
	require.NoError(t, job.MarkCompleted(result, testNow))

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Same(t, result, job.Result)
	assert.Nil(t, job.Error)
	assert.NotNil(t, job.CompletedAt)
}

func TestJob_MarkCompletedRequiresProcessing(t *testing.T) {
	job := newTestJob()

	err := job.MarkCompleted(NewResult(SourceLocal, "en", nil), testNow)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrJobAlreadyFinished))
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.CompletedAt)
	assert.Zero(t, job.Progress)
}

func TestJob_MarkFailed(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkProcessing("w", testNow))
	require.NoError(t, job.UpdateProgress(30, testNow))

	require.NoError(t, job.MarkFailed(&JobError{Code: CodeProcessingError, Message: "boom"}, testNow))

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.Error)
	assert.Equal(t, CodeProcessingError, job.Error.Code)
	assert.Less(t, job.Progress, 100.0)
}

func TestJob_TerminalStatesAreAbsorbing(t *testing.T) {
	completed := newTestJob()
	require.NoError(t, completed.MarkProcessing("w", testNow))
	require.NoError(t, completed.MarkCompleted(NewResult(SourceLocal, "en", nil), testNow))

	failed := newTestJob()
	require.NoError(t, failed.MarkFailed(&JobError{Code: CodeProcessingError}, testNow))

	for _, job := range []*Job{completed, failed} {
		status := job.Status
		assert.True(t, errors.Is(job.MarkProcessing("w", testNow), ErrJobAlreadyFinished))
		assert.True(t, errors.Is(job.MarkCompleted(nil, testNow), ErrJobAlreadyFinished))
		assert.True(t, errors.Is(job.MarkFailed(&JobError{}, testNow), ErrJobAlreadyFinished))
		assert.True(t, errors.Is(job.UpdateProgress(10, testNow), ErrJobAlreadyFinished))
		assert.Equal(t, status, job.Status)
	}
}

func TestJob_Cancel(t *testing.T) {
	t.Run("queued job fails with cancelled code", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.Cancel(testNow))

		assert.Equal(t, JobStatusFailed, job.Status)
		require.NotNil(t, job.Error)
		assert.Equal(t, CodeJobCancelled, job.Error.Code)
	})

	t.Run("processing job fails with cancelled code", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.MarkProcessing("w", testNow))
		require.NoError(t, job.Cancel(testNow))
		assert.Equal(t, CodeJobCancelled, job.Error.Code)
	})

	t.Run("finished job is rejected without mutation", func(t *testing.T) {
		job := newTestJob()
		result := NewResult(SourceLocal, "en", []Segment{{Start: 0, End: 1, Text: "done"}})
		require.NoError(t, job.MarkProcessing("w", testNow))
		require.NoError(t, job.MarkCompleted(result, testNow))
		before := *job

		err := job.Cancel(testNow.Add(time.Hour))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrJobAlreadyFinished))
		assert.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, before, *job)
	})
}

func TestJob_UpdateProgress(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkProcessing("w", testNow))

	require.NoError(t, job.UpdateProgress(30, testNow))
	assert.Equal(t, 30.0, job.Progress)

	require.NoError(t, job.UpdateProgress(10, testNow))
	assert.Equal(t, 30.0, job.Progress, "progress never decreases")

	require.NoError(t, job.UpdateProgress(100, testNow))
	assert.Equal(t, MaxActiveProgress, job.Progress, "only completion reaches 100")
}

func TestJobErrorFrom(t *testing.T) {
	domainErr := JobErrorFrom(NewMediaDownloadError("HTTP 404", nil))
	assert.Equal(t, CodeMediaDownloadFailed, domainErr.Code)
	assert.Equal(t, "HTTP 404", domainErr.Details["reason"])

	plain := JobErrorFrom(errors.New("disk full"))
	assert.Equal(t, CodeProcessingError, plain.Code)
	assert.Equal(t, "disk full", plain.Message)
}
