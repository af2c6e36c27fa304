// Package transcription decides how a request is served: platform captions or
// speech recognition, and synchronously or as a queued job.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/cuongbtq/transcriber/internal/asr"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/jobstore"
	"github.com/cuongbtq/transcriber/internal/media"
	"github.com/cuongbtq/transcriber/internal/metrics"
	"github.com/cuongbtq/transcriber/internal/youtube"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultSyncCeiling is the longest media served inline.
const DefaultSyncCeiling = 600 * time.Second

const (
	modeSync  = "sync"
	modeAsync = "async"
)

// MediaSource acquires media into scratch storage and hands it off to jobs.
type MediaSource interface {
	SaveUpload(ctx context.Context, up media.Upload) (*media.Handle, error)
	DownloadFromURL(ctx context.Context, rawURL string) (*media.Handle, error)
	DownloadFromPlatformExtractor(ctx context.Context, rawURL string) (*media.Handle, error)
	Duration(ctx context.Context, path string) (float64, error)
	Stash(ctx context.Context, h *media.Handle, key string) (string, error)
	Restore(ctx context.Context, ref string) (*media.Handle, error)
	Discard(ctx context.Context, ref string) error
}

// JobCreator persists and enqueues async jobs.
type JobCreator interface {
	CreateJob(ctx context.Context, req jobstore.CreateRequest) (*domain.Job, error)
}

// Config tunes the orchestrator.
type Config struct {
	SyncCeiling time.Duration
	// MaxConcurrent bounds engine runs started by request handlers.
	MaxConcurrent int
}

// Orchestrator implements the captions-first, speech-recognition-fallback
// strategy and the sync/async split.
type Orchestrator struct {
	captions youtube.CaptionProvider
	media    MediaSource
	engine   asr.Engine
	jobs     JobCreator
	ceiling  time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

func New(cfg Config, captions youtube.CaptionProvider, src MediaSource, engine asr.Engine, jobs JobCreator, logger *slog.Logger) *Orchestrator {
	if cfg.SyncCeiling <= 0 {
		cfg.SyncCeiling = DefaultSyncCeiling
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU()
	}
	return &Orchestrator{
		captions: captions,
		media:    src,
		engine:   engine,
		jobs:     jobs,
		ceiling:  cfg.SyncCeiling,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger,
	}
}

// VideoRequest asks for the transcript of a platform video.
type VideoRequest struct {
	URL         string
	Language    string
	TranslateTo string
	Diarise     bool
	ForceASR    bool
	Format      domain.Format
	WebhookURL  string
	Owner       string
}

// MediaRequest asks for the transcript of an uploaded file or a media URL.
// Upload wins when both are set.
type MediaRequest struct {
	Upload      *media.Upload
	URL         string
	Language    string
	TranslateTo string
	Diarise     bool
	Format      domain.Format
	WebhookURL  string
	Owner       string
}

// Outcome holds either a finished result or the queued job that will
// produce it.
type Outcome struct {
	Result *domain.Result
	Job    *domain.Job
	Format domain.Format
}

// Async reports whether the request was handed to a worker.
func (o Outcome) Async() bool {
	return o.Job != nil
}

// pending describes the job to create if the media turns out to be long.
type pending struct {
	jobType    domain.JobType
	inputRef   string
	params     domain.JobParams
	webhookURL string
	owner      string
}

// TranscribeVideo serves a platform video, trying existing captions first
// unless speech recognition was forced or diarisation requested.
func (o *Orchestrator) TranscribeVideo(ctx context.Context, req VideoRequest) (*Outcome, error) {
	videoID, err := youtube.ExtractVideoID(req.URL)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(slog.String("video_id", videoID))

	if !req.ForceASR && !req.Diarise {
		outcome, err := o.captions.FetchCaptions(ctx, videoID, youtube.CaptionOptions{
			Language:    req.Language,
			TranslateTo: req.TranslateTo,
		})
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.IncCaptionFallback("lookup_error")
			logger.Warn("Caption lookup failed, falling back to speech recognition",
				slog.String("error", err.Error()),
			)
		case outcome.Kind == youtube.CaptionsFound:
			metrics.IncTranscription(string(outcome.Result.Source), modeSync)
			logger.Info("Served from platform captions",
				slog.String("language", outcome.Result.Language),
				slog.Int("segments", len(outcome.Result.Segments)),
			)
			return &Outcome{Result: outcome.Result, Format: req.Format}, nil
		case outcome.Kind == youtube.SourceGone:
			return nil, domain.NewVideoUnavailableError(videoID, outcome.Reason)
		default:
			metrics.IncCaptionFallback(outcome.Code)
			logger.Info("Captions unavailable, falling back to speech recognition",
				slog.String("code", outcome.Code),
				slog.String("reason", outcome.Reason),
			)
		}
	}

	h, err := o.media.DownloadFromPlatformExtractor(ctx, youtube.WatchURL(videoID))
	if err != nil {
		if errors.Is(err, media.ErrSourceGone) {
			return nil, domain.NewVideoUnavailableError(videoID, err.Error())
		}
		return nil, err
	}

	return o.transcribeAcquired(ctx, h, pending{
		jobType:  domain.JobTypePlatformVideo,
		inputRef: req.URL,
		params: domain.JobParams{
			Language:    req.Language,
			TranslateTo: req.TranslateTo,
			Diarise:     req.Diarise,
			Format:      req.Format,
		},
		webhookURL: req.WebhookURL,
		owner:      req.Owner,
	})
}

// TranscribeMedia serves an uploaded file or a media URL. Platform video URLs
// are rejected in favour of the video endpoint.
func (o *Orchestrator) TranscribeMedia(ctx context.Context, req MediaRequest) (*Outcome, error) {
	rawURL := strings.TrimSpace(req.URL)
	if req.Upload == nil && rawURL == "" {
		return nil, domain.NewMissingInputError()
	}

	params := domain.JobParams{
		Language:    req.Language,
		TranslateTo: req.TranslateTo,
		Diarise:     req.Diarise,
		Format:      req.Format,
	}
	p := pending{params: params, webhookURL: req.WebhookURL, owner: req.Owner}

	var (
		h   *media.Handle
		err error
	)
	switch {
	case req.Upload != nil:
		p.jobType = domain.JobTypeMediaUpload
		p.inputRef = req.Upload.Filename
		p.params.Filename = req.Upload.Filename
		p.params.ContentType = req.Upload.ContentType
		h, err = o.media.SaveUpload(ctx, *req.Upload)
	case media.IsYouTubeURL(rawURL):
		return nil, domain.NewUseYouTubeEndpointError(rawURL)
	default:
		p.jobType = domain.JobTypeMediaURL
		p.inputRef = rawURL
		h, err = o.acquireURL(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}

	return o.transcribeAcquired(ctx, h, p)
}

func (o *Orchestrator) acquireURL(ctx context.Context, rawURL string) (*media.Handle, error) {
	if media.IsSocialMediaURL(rawURL) {
		return o.media.DownloadFromPlatformExtractor(ctx, rawURL)
	}
	return o.media.DownloadFromURL(ctx, rawURL)
}

// transcribeAcquired owns h: the file is removed on every exit path unless it
// was handed to a queued job.
func (o *Orchestrator) transcribeAcquired(ctx context.Context, h *media.Handle, p pending) (*Outcome, error) {
	defer o.cleanup(h)

	duration := o.probe(ctx, h)
	if duration > o.ceiling.Seconds() {
		return o.enqueue(ctx, h, p, duration)
	}

	result, err := o.transcribeFile(ctx, h.Path, p.params)
	if err != nil {
		return nil, err
	}
	addRequestWarnings(result, p.jobType, p.inputRef)

	metrics.IncTranscription(string(result.Source), modeSync)
	return &Outcome{Result: result, Format: p.params.Format}, nil
}

// probe returns the media duration, or 0 when it cannot be measured.
func (o *Orchestrator) probe(ctx context.Context, h *media.Handle) float64 {
	d, err := o.media.Duration(ctx, h.Path)
	if err != nil {
		o.logger.Warn("Could not measure media duration, serving synchronously",
			slog.String("path", h.Path),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return d
}

func (o *Orchestrator) enqueue(ctx context.Context, h *media.Handle, p pending, duration float64) (*Outcome, error) {
	ref, err := o.media.Stash(ctx, h, uuid.NewString())
	if err != nil {
		return nil, domain.NewMediaDownloadError("failed to hand media off to a worker", err)
	}

	job, err := o.jobs.CreateJob(ctx, jobstore.CreateRequest{
		Type:       p.jobType,
		InputRef:   p.inputRef,
		MediaRef:   ref,
		Params:     p.params,
		WebhookURL: p.webhookURL,
		Owner:      p.owner,
	})
	if err != nil {
		if discardErr := o.media.Discard(context.WithoutCancel(ctx), ref); discardErr != nil {
			o.logger.Warn("Failed to discard stashed media",
				slog.String("media_ref", ref),
				slog.String("error", discardErr.Error()),
			)
		}
		return nil, err
	}

	metrics.IncTranscription(string(o.engine.Source()), modeAsync)
	o.logger.Info("Media exceeds the synchronous ceiling, job queued",
		slog.String("job_id", job.ID),
		slog.Float64("duration_seconds", duration),
		slog.Duration("sync_ceiling", o.ceiling),
	)
	return &Outcome{Job: job, Format: p.params.Format}, nil
}

// transcribeFile runs the engine under the concurrency bound and builds the
// result.
func (o *Orchestrator) transcribeFile(ctx context.Context, path string, params domain.JobParams) (*domain.Result, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	start := time.Now()
	tr, err := o.engine.Transcribe(ctx, path, asr.Options{
		Language:    params.Language,
		TranslateTo: params.TranslateTo,
		Diarise:     params.Diarise,
	})
	metrics.ObserveEngine(string(o.engine.Source()), time.Since(start))
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewTranscriptionError(err.Error(), err)
	}

	result := domain.NewResult(o.engine.Source(), tr.Language, tr.Segments)
	result.Confidence = tr.Confidence
	if tr.Duration > result.Duration {
		result.Duration = tr.Duration
	}
	for _, w := range tr.Warnings {
		result.AddWarning(w)
	}
	if params.Diarise && !o.engine.SupportsDiarisation() {
		result.AddWarning(fmt.Sprintf("Speaker diarisation is not implemented for the %s engine; segments carry no speaker labels", o.engine.Source()))
	}
	return result, nil
}

func (o *Orchestrator) cleanup(h *media.Handle) {
	if err := h.Cleanup(); err != nil {
		o.logger.Warn("Failed to remove temporary media",
			slog.String("path", h.Path),
			slog.String("error", err.Error()),
		)
	}
}

// addRequestWarnings records degradations implied by how the media was
// requested.
func addRequestWarnings(result *domain.Result, jobType domain.JobType, inputRef string) {
	if jobType == domain.JobTypeMediaURL && media.IsSocialMediaURL(inputRef) {
		result.AddWarning("Media was extracted from a social platform page; quality depends on the platform's encoding")
	}
}
