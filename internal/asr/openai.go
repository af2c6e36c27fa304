package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
)

// hostedConfidence is reported for providers that return no per-result score.
const hostedConfidence = 0.95

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIEngine calls the hosted audio transcription API.
type OpenAIEngine struct {
	cfg     OpenAIConfig
	backend *backend
	logger  *slog.Logger
}

func NewOpenAIEngine(cfg OpenAIConfig, httpClient *http.Client, logger *slog.Logger) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &OpenAIEngine{
		cfg:     cfg,
		backend: &backend{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: httpClient},
		logger:  logger,
	}, nil
}

func (e *OpenAIEngine) Source() domain.Source {
	return domain.SourceOpenAI
}

func (e *OpenAIEngine) SupportsDiarisation() bool {
	return false
}

func (e *OpenAIEngine) HealthCheck(ctx context.Context) error {
	return nil
}

type verboseTranscription struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, path string, opts Options) (*Transcription, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var warnings []string
	endpoint := "/audio/transcriptions"
	if opts.TranslateTo != "" && !sameLanguage(opts.TranslateTo, opts.Language) {
		if sameLanguage(opts.TranslateTo, "en") {
			endpoint = "/audio/translations"
		} else {
			warnings = append(warnings, fmt.Sprintf("Hosted engine can only translate to English; %s was not applied", opts.TranslateTo))
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeTranscriptionForm(mw, f, filepath.Base(path), e.cfg.Model, opts.Language, endpoint))
	}()

	var out verboseTranscription
	if err := e.backend.do(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), pr, &out); err != nil {
		pr.CloseWithError(err)
		return nil, domain.NewTranscriptionError("hosted transcription request failed", err)
	}

	segments := make([]domain.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, domain.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	segments = domain.NormalizeSegments(segments)
	if len(segments) == 0 && out.Text != "" {
		segments = domain.NormalizeSegments([]domain.Segment{{Start: 0, End: out.Duration, Text: out.Text}})
	}

	confidence := hostedConfidence
	e.logger.Info("Hosted transcription finished",
		slog.String("provider", ProviderOpenAI),
		slog.Int("segments", len(segments)),
	)
	return &Transcription{
		Segments:   segments,
		Language:   out.Language,
		Confidence: &confidence,
		Duration:   out.Duration,
		Warnings:   warnings,
	}, nil
}

func writeTranscriptionForm(mw *multipart.Writer, media io.Reader, filename, model, language, endpoint string) error {
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, media); err != nil {
		return err
	}

	fields := map[string]string{
		"model":           model,
		"response_format": "verbose_json",
	}
	if language != "" && endpoint == "/audio/transcriptions" {
		fields["language"] = normalizeLanguage(language)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	return mw.Close()
}
