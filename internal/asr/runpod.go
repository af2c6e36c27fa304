package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"

	"github.com/cuongbtq/transcriber/internal/domain"
)

// ObjectStore publishes media where a remote worker can fetch it.
type ObjectStore interface {
	PutFile(ctx context.Context, key, path, contentType string) (int64, error)
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error)
	Remove(ctx context.Context, key string) error
}

type RunpodConfig struct {
	APIKey        string
	EndpointID    string
	BaseURL       string
	Model         string
	PollInterval  time.Duration
	Timeout       time.Duration
	PresignExpiry time.Duration
}

// Runpod serverless job states.
const (
	runpodInQueue    = "IN_QUEUE"
	runpodInProgress = "IN_PROGRESS"
	runpodCompleted  = "COMPLETED"
	runpodFailed     = "FAILED"
	runpodCancelled  = "CANCELLED"
	runpodTimedOut   = "TIMED_OUT"
)

// RunpodEngine submits media to a serverless faster-whisper endpoint and
// polls until the remote job finishes.
type RunpodEngine struct {
	cfg     RunpodConfig
	objects ObjectStore
	backend *backend
	logger  *slog.Logger
}

func NewRunpodEngine(cfg RunpodConfig, objects ObjectStore, httpClient *http.Client, logger *slog.Logger) (*RunpodEngine, error) {
	if cfg.APIKey == "" || cfg.EndpointID == "" {
		return nil, errors.New("runpod api key and endpoint id are required")
	}
	if objects == nil {
		return nil, errors.New("runpod engine needs an object store to publish media")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.runpod.ai/v2"
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 600 * time.Second
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	return &RunpodEngine{
		cfg:     cfg,
		objects: objects,
		backend: &backend{
			baseURL:    cfg.BaseURL + "/" + cfg.EndpointID,
			apiKey:     cfg.APIKey,
			httpClient: httpClient,
		},
		logger: logger,
	}, nil
}

func (e *RunpodEngine) Source() domain.Source {
	return domain.SourceRunpod
}

func (e *RunpodEngine) SupportsDiarisation() bool {
	return false
}

func (e *RunpodEngine) HealthCheck(ctx context.Context) error {
	var health map[string]any
	return e.backend.do(ctx, http.MethodGet, "/health", "", nil, &health)
}

type runpodInput struct {
	Audio           string `json:"audio"`
	Model           string `json:"model"`
	Language        string `json:"language,omitempty"`
	Translate       bool   `json:"translate"`
	Transcription   string `json:"transcription"`
	EnableVAD       bool   `json:"enable_vad"`
	WordTimestamps  bool   `json:"word_timestamps"`
	ConditionOnPrev bool   `json:"condition_on_previous_text"`
}

type runpodJob struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Error  string        `json:"error"`
	Output *runpodOutput `json:"output"`
}

type runpodOutput struct {
	DetectedLanguage string `json:"detected_language"`
	Transcription    string `json:"transcription"`
	Segments         []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *RunpodEngine) Transcribe(ctx context.Context, path string, opts Options) (*Transcription, error) {
	key := "runpod/" + uuid.NewString() + filepath.Ext(path)
	if _, err := e.objects.PutFile(ctx, key, path, "application/octet-stream"); err != nil {
		return nil, domain.NewTranscriptionError("failed to publish media", err)
	}
	defer func() {
		if err := e.objects.Remove(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Warn("Failed to remove published media", slog.String("key", key), slog.Any("error", err))
		}
	}()

	audioURL, err := e.objects.PresignedGet(ctx, key, e.cfg.PresignExpiry)
	if err != nil {
		return nil, domain.NewTranscriptionError("failed to presign media", err)
	}

	var warnings []string
	translate := false
	if opts.TranslateTo != "" && !sameLanguage(opts.TranslateTo, opts.Language) {
		if sameLanguage(opts.TranslateTo, "en") {
			translate = true
		} else {
			warnings = append(warnings, fmt.Sprintf("Hosted engine can only translate to English; %s was not applied", opts.TranslateTo))
		}
	}

	input := runpodInput{
		Audio:         audioURL.String(),
		Model:         e.cfg.Model,
		Translate:     translate,
		Transcription: "plain_text",
		EnableVAD:     true,
	}
	if l := normalizeLanguage(opts.Language); l != "auto" {
		input.Language = l
	}

	var submitted runpodJob
	if err := e.backend.postJSON(ctx, "/run", map[string]any{"input": input}, &submitted); err != nil {
		return nil, domain.NewTranscriptionError("failed to submit runpod job", err)
	}
	e.logger.Info("Runpod job submitted", slog.String("runpod_job_id", submitted.ID))

	job, err := e.wait(ctx, submitted.ID)
	if err != nil {
		return nil, err
	}

	segments := make([]domain.Segment, 0, len(job.Output.Segments))
	for _, s := range job.Output.Segments {
		segments = append(segments, domain.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	segments = domain.NormalizeSegments(segments)
	if len(segments) == 0 && job.Output.Transcription != "" {
		segments = domain.NormalizeSegments([]domain.Segment{{Text: job.Output.Transcription}})
	}

	var duration float64
	if n := len(segments); n > 0 {
		duration = segments[n-1].End
	}

	confidence := hostedConfidence
	return &Transcription{
		Segments:   segments,
		Language:   job.Output.DetectedLanguage,
		Confidence: &confidence,
		Duration:   duration,
		Warnings:   warnings,
	}, nil
}

// wait polls the remote job until it finishes, fails or the configured
// timeout passes. A timed-out job is cancelled remotely.
func (e *RunpodEngine) wait(ctx context.Context, id string) (*runpodJob, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	ticker := jitterbug.New(e.cfg.PollInterval, &jitterbug.Norm{Stdev: e.cfg.PollInterval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancel(id)
			return nil, domain.NewTranscriptionError("runpod job did not finish in time", ctx.Err())
		case <-ticker.C:
		}

		var job runpodJob
		if err := e.backend.do(ctx, http.MethodGet, "/status/"+id, "", nil, &job); err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.logger.Warn("Runpod status poll failed", slog.String("runpod_job_id", id), slog.Any("error", err))
			continue
		}

		switch job.Status {
		case runpodCompleted:
			if job.Output == nil {
				return nil, domain.NewTranscriptionError("runpod job returned no output", nil)
			}
			return &job, nil
		case runpodFailed, runpodCancelled, runpodTimedOut:
			return nil, domain.NewTranscriptionError(fmt.Sprintf("runpod job %s: %s", job.Status, job.Error), nil)
		case runpodInQueue, runpodInProgress:
		default:
			e.logger.Warn("Unknown runpod job status", slog.String("status", job.Status))
		}
	}
}

func (e *RunpodEngine) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.backend.do(ctx, http.MethodPost, "/cancel/"+id, "", nil, nil); err != nil {
		e.logger.Warn("Failed to cancel runpod job", slog.String("runpod_job_id", id), slog.Any("error", err))
	}
}
