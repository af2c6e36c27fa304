package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
)

// DefaultWebhookTimeout bounds a single delivery attempt.
const DefaultWebhookTimeout = 30 * time.Second

// WebhookPayload is the JSON body POSTed to a job's webhook.
type WebhookPayload struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Result *domain.Result   `json:"result"`
	Error  *domain.JobError `json:"error"`
}

// WebhookNotifier POSTs the terminal job state once, without retries.
type WebhookNotifier struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewWebhookNotifier(client *http.Client, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookNotifier{client: client, timeout: timeout, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(WebhookPayload{
		JobID:  job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	n.logger.Debug("Webhook accepted",
		slog.String("job_id", job.ID),
		slog.Int("status_code", resp.StatusCode),
	)
	return nil
}
