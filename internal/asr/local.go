package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/domain"
)

// LocalConfig points at the whisper.cpp CLI and its ggml model.
type LocalConfig struct {
	WhisperPath string
	FFmpegPath  string
	// ModelPath is a model file or a directory holding .bin/.gguf models.
	ModelPath string
	// ModelName picks a file inside a model directory, e.g. "base".
	ModelName string
	Threads   int
	WorkDir   string
}

// LocalEngine runs ffmpeg and whisper.cpp as subprocesses.
type LocalEngine struct {
	cfg    LocalConfig
	runner command.Runner
	logger *slog.Logger

	lookPath func(name string) error
	model    *lazy[string]
}

func NewLocalEngine(cfg LocalConfig, runner command.Runner, logger *slog.Logger) *LocalEngine {
	if cfg.WhisperPath == "" {
		cfg.WhisperPath = "whisper-cli"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "base"
	}

	e := &LocalEngine{
		cfg:      cfg,
		runner:   runner,
		logger:   logger,
		lookPath: command.LookPath,
	}
	e.model = newLazy(e.loadModel)
	return e
}

func (e *LocalEngine) Source() domain.Source {
	return domain.SourceLocal
}

func (e *LocalEngine) SupportsDiarisation() bool {
	return false
}

// Warmup resolves the model ahead of the first request.
func (e *LocalEngine) Warmup(ctx context.Context) error {
	_, err := e.modelPath(ctx)
	return err
}

// HealthCheck reports whether the model has been, or can be, resolved.
func (e *LocalEngine) HealthCheck(ctx context.Context) error {
	_, err := e.modelPath(ctx)
	return err
}

func (e *LocalEngine) modelPath(ctx context.Context) (string, error) {
	p, err := e.model.Get(ctx)
	if err != nil {
		return "", domain.NewModelNotAvailableError(e.cfg.ModelName, err)
	}
	return p, nil
}

func (e *LocalEngine) loadModel(ctx context.Context) (string, error) {
	start := time.Now()
	e.logger.Info("Loading whisper model", slog.String("model", e.cfg.ModelName), slog.String("path", e.cfg.ModelPath))

	for _, bin := range []string{e.cfg.WhisperPath, e.cfg.FFmpegPath} {
		if err := e.lookPath(bin); err != nil {
			return "", err
		}
	}

	p, err := resolveModelPath(e.cfg.ModelPath, e.cfg.ModelName)
	if err != nil {
		return "", err
	}

	e.logger.Info("Whisper model ready", slog.String("model_path", p), slog.Duration("took", time.Since(start)))
	return p, nil
}

// resolveModelPath accepts a model file or a directory of .bin/.gguf files.
// In a directory, a file whose name contains name wins; otherwise the first
// file in lexical order.
func resolveModelPath(rawPath, name string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	var models []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".bin" || ext == ".gguf") {
			models = append(models, entry.Name())
		}
	}
	if len(models) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(models)
	for _, m := range models {
		if strings.Contains(m, "-"+name+".") || strings.TrimSuffix(m, filepath.Ext(m)) == name {
			return filepath.Join(modelPath, m), nil
		}
	}
	return filepath.Join(modelPath, models[0]), nil
}

func (e *LocalEngine) Transcribe(ctx context.Context, path string, opts Options) (*Transcription, error) {
	modelPath, err := e.modelPath(ctx)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "audio-16k-mono.wav")
	if _, err := e.runner.Run(ctx, e.cfg.FFmpegPath, buildFFmpegArgs(path, wavPath)...); err != nil {
		return nil, domain.NewTranscriptionError("audio conversion failed", err)
	}

	var warnings []string
	translate := false
	if opts.TranslateTo != "" && !sameLanguage(opts.TranslateTo, opts.Language) {
		if sameLanguage(opts.TranslateTo, "en") {
			translate = true
		} else {
			warnings = append(warnings, fmt.Sprintf("Local engine can only translate to English; %s was not applied", opts.TranslateTo))
		}
	}

	outBase := filepath.Join(workDir, "transcript")
	args := buildWhisperArgs(modelPath, wavPath, outBase, opts.Language, translate, e.cfg.Threads)

	start := time.Now()
	if _, err := e.runner.Run(ctx, e.cfg.WhisperPath, args...); err != nil {
		return nil, domain.NewTranscriptionError("whisper.cpp failed", err)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, domain.NewTranscriptionError("whisper.cpp produced no output", err)
	}

	t, err := parseWhisperJSON(data)
	if err != nil {
		return nil, domain.NewTranscriptionError("unreadable whisper.cpp output", err)
	}
	t.Warnings = append(t.Warnings, warnings...)

	e.logger.Info("Local transcription finished",
		slog.String("language", t.Language),
		slog.Int("segments", len(t.Segments)),
		slog.Duration("took", time.Since(start)),
	)
	return t, nil
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildWhisperArgs(modelPath, audioPath, outBase, language string, translate bool, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-l", normalizeLanguage(language),
	}
	if translate {
		args = append(args, "-tr")
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

func normalizeLanguage(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if lang == "" {
		return "auto"
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func sameLanguage(a, b string) bool {
	a, b = normalizeLanguage(a), normalizeLanguage(b)
	return a != "auto" && a == b
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) (*Transcription, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	segments := make([]domain.Segment, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		segments = append(segments, domain.Segment{
			Start: float64(s.Offsets.From) / 1000,
			End:   float64(s.Offsets.To) / 1000,
			Text:  s.Text,
		})
	}
	segments = domain.NormalizeSegments(segments)

	var duration float64
	if n := len(segments); n > 0 {
		duration = segments[n-1].End
	}

	return &Transcription{
		Segments: segments,
		Language: out.Result.Language,
		Duration: duration,
	}, nil
}
