package jobstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Notify(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	job := domain.NewJob("job-1", domain.JobTypeMediaUpload, "upload.mp3", domain.JobParams{}, server.URL, time.Now())
	require.NoError(t, job.MarkProcessing("worker-1", time.Now()))
	require.NoError(t, job.MarkCompleted(domain.NewResult(domain.SourceLocal, "en", []domain.Segment{{End: 1, Text: "hi"}}), time.Now()))

	notifier := NewWebhookNotifier(server.Client(), time.Second, discardLogger())
	require.NoError(t, notifier.Notify(context.Background(), job))

	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "hi", got.Result.Transcript)
	assert.Nil(t, got.Error)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	job := domain.NewJob("job-1", domain.JobTypeMediaUpload, "upload.mp3", domain.JobParams{}, server.URL, time.Now())
	notifier := NewWebhookNotifier(server.Client(), time.Second, discardLogger())

	err := notifier.Notify(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookNotifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	job := domain.NewJob("job-1", domain.JobTypeMediaUpload, "upload.mp3", domain.JobParams{}, server.URL, time.Now())
	notifier := NewWebhookNotifier(server.Client(), 50*time.Millisecond, discardLogger())

	assert.Error(t, notifier.Notify(context.Background(), job))
}
