// Package asr runs speech recognition over local media files.
package asr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/domain"
)

// Options tune one transcription.
type Options struct {
	Language    string
	TranslateTo string
	Diarise     bool
}

// Transcription is the raw engine output before it becomes a domain.Result.
type Transcription struct {
	Segments   []domain.Segment
	Language   string
	Confidence *float64
	Duration   float64
	Warnings   []string
}

// Engine turns a local media file into timed segments.
type Engine interface {
	Source() domain.Source
	Transcribe(ctx context.Context, path string, opts Options) (*Transcription, error)
	SupportsDiarisation() bool
	HealthCheck(ctx context.Context) error
}

// Provider names accepted in configuration.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderRunpod = "runpod"
)

// Config selects and configures the active engine.
type Config struct {
	Provider string
	Local    LocalConfig
	OpenAI   OpenAIConfig
	Runpod   RunpodConfig
}

// Deps are the collaborators an engine may need.
type Deps struct {
	Runner     command.Runner
	Objects    ObjectStore
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds the configured engine. It does not load any model.
func New(cfg Config, deps Deps) (Engine, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	switch cfg.Provider {
	case ProviderLocal, "":
		if deps.Runner == nil {
			deps.Runner = command.ExecRunner{}
		}
		return NewLocalEngine(cfg.Local, deps.Runner, deps.Logger), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.OpenAI, deps.HTTPClient, deps.Logger)
	case ProviderRunpod:
		return NewRunpodEngine(cfg.Runpod, deps.Objects, deps.HTTPClient, deps.Logger)
	}
	return nil, fmt.Errorf("unknown ASR provider %q", cfg.Provider)
}
