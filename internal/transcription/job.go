package transcription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/media"
	"github.com/cuongbtq/transcriber/internal/metrics"
	"github.com/cuongbtq/transcriber/internal/youtube"
)

// Progress checkpoints reported while a job runs.
const (
	ProgressAcquired    = 30.0
	ProgressTranscribed = 90.0
)

// ProgressFunc persists a progress checkpoint. An error aborts the job, for
// example when it was cancelled in the meantime.
type ProgressFunc func(ctx context.Context, pct float64) error

// RunJob executes the speech recognition pipeline of a queued job. The
// stashed media, if any, is removed whatever the outcome.
func (o *Orchestrator) RunJob(ctx context.Context, job *domain.Job, progress ProgressFunc) (*domain.Result, error) {
	logger := o.logger.With(slog.String("job_id", job.ID), slog.String("job_type", string(job.Type)))

	if job.MediaRef != "" {
		defer func() {
			if err := o.media.Discard(context.WithoutCancel(ctx), job.MediaRef); err != nil {
				logger.Warn("Failed to discard stashed media",
					slog.String("media_ref", job.MediaRef),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	h, err := o.acquireForJob(ctx, job)
	if err != nil {
		return nil, err
	}
	defer o.cleanup(h)

	if err := progress(ctx, ProgressAcquired); err != nil {
		return nil, err
	}

	result, err := o.transcribeFile(ctx, h.Path, job.Params)
	if err != nil {
		return nil, err
	}
	addRequestWarnings(result, job.Type, job.InputRef)

	if err := progress(ctx, ProgressTranscribed); err != nil {
		return nil, err
	}

	metrics.IncTranscription(string(result.Source), modeAsync)
	logger.Info("Job transcription finished",
		slog.String("language", result.Language),
		slog.Float64("duration_seconds", result.Duration),
		slog.Int("segments", len(result.Segments)),
	)
	return result, nil
}

// acquireForJob restores stashed media or, for URL jobs without it, fetches
// the source again.
func (o *Orchestrator) acquireForJob(ctx context.Context, job *domain.Job) (*media.Handle, error) {
	if job.MediaRef != "" {
		h, err := o.media.Restore(ctx, job.MediaRef)
		if err != nil {
			return nil, domain.NewMediaDownloadError("stashed media could not be restored", err)
		}
		return h, nil
	}

	switch job.Type {
	case domain.JobTypePlatformVideo:
		videoID, err := youtube.ExtractVideoID(job.InputRef)
		if err != nil {
			return nil, err
		}
		h, err := o.media.DownloadFromPlatformExtractor(ctx, youtube.WatchURL(videoID))
		if errors.Is(err, media.ErrSourceGone) {
			return nil, domain.NewVideoUnavailableError(videoID, err.Error())
		}
		return h, err
	case domain.JobTypeMediaURL:
		return o.acquireURL(ctx, job.InputRef)
	}
	return nil, domain.NewMediaDownloadError("uploaded media is no longer available", nil)
}
