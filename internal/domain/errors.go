package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for callers deciding how to surface it.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindGone         Kind = "gone"
	KindUnsupported  Kind = "unsupported"
	KindTooLarge     Kind = "too_large"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "dependency_unavailable"
	KindUpstream     Kind = "upstream_failure"
	KindInternal     Kind = "internal"

	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
)

// Stable machine-readable error codes.
const (
	CodeInvalidYouTubeURL    = "INVALID_YOUTUBE_URL"
	CodeMissingInput         = "MISSING_INPUT"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeVideoUnavailable     = "VIDEO_UNAVAILABLE"
	CodeCaptionsDisabled     = "CAPTIONS_DISABLED"
	CodeTranscriptNotFound   = "TRANSCRIPT_NOT_FOUND"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeMediaDownloadFailed  = "MEDIA_DOWNLOAD_FAILED"
	CodeTranscriptionFailed  = "TRANSCRIPTION_FAILED"
	CodeModelNotAvailable    = "MODEL_NOT_AVAILABLE"
	CodeJobNotFound          = "JOB_NOT_FOUND"
	CodeJobExpired           = "JOB_EXPIRED"
	CodeJobAlreadyFinished   = "JOB_ALREADY_FINISHED"
	CodeJobCancelled         = "JOB_CANCELLED"
	CodeUseYouTubeEndpoint   = "USE_YOUTUBE_ENDPOINT"
	CodeInvalidAPIKey        = "INVALID_API_KEY"
	CodeRateLimited          = "RATE_LIMITED"
	CodeProcessingError      = "PROCESSING_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is a domain error with a stable code and a details bag for clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code, so the exported templates below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Templates for errors.Is checks.
var (
	ErrInvalidSource        = &Error{Kind: KindInvalidInput, Code: CodeInvalidYouTubeURL}
	ErrMissingInput         = &Error{Kind: KindInvalidInput, Code: CodeMissingInput}
	ErrVideoUnavailable     = &Error{Kind: KindNotFound, Code: CodeVideoUnavailable}
	ErrUnsupportedMediaType = &Error{Kind: KindUnsupported, Code: CodeUnsupportedMediaType}
	ErrFileTooLarge         = &Error{Kind: KindTooLarge, Code: CodeFileTooLarge}
	ErrMediaDownload        = &Error{Kind: KindUpstream, Code: CodeMediaDownloadFailed}
	ErrTranscription        = &Error{Kind: KindUpstream, Code: CodeTranscriptionFailed}
	ErrModelNotAvailable    = &Error{Kind: KindUnavailable, Code: CodeModelNotAvailable}
	ErrJobNotFound          = &Error{Kind: KindNotFound, Code: CodeJobNotFound}
	ErrJobExpired           = &Error{Kind: KindGone, Code: CodeJobExpired}
	ErrJobAlreadyFinished   = &Error{Kind: KindConflict, Code: CodeJobAlreadyFinished}
	ErrUseYouTubeEndpoint   = &Error{Kind: KindConflict, Code: CodeUseYouTubeEndpoint}
	ErrInvalidAPIKey        = &Error{Kind: KindUnauthorized, Code: CodeInvalidAPIKey}
)

func NewInvalidSourceError(url string) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Code:    CodeInvalidYouTubeURL,
		Message: "Could not extract a YouTube video ID from the URL",
		Details: map[string]any{"url": url},
	}
}

func NewMissingInputError() *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Code:    CodeMissingInput,
		Message: "Either a file or a url must be provided",
	}
}

func NewInvalidInputError(field, reason string) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Code:    CodeInvalidInput,
		Message: reason,
		Details: map[string]any{"field": field},
	}
}

func NewVideoUnavailableError(videoID, reason string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeVideoUnavailable,
		Message: "Video is unavailable",
		Details: map[string]any{"video_id": videoID, "reason": reason},
	}
}

func NewUnsupportedMediaTypeError(contentType string, supported []string) *Error {
	return &Error{
		Kind:    KindUnsupported,
		Code:    CodeUnsupportedMediaType,
		Message: fmt.Sprintf("Unsupported media type: %s", contentType),
		Details: map[string]any{"content_type": contentType, "supported_types": supported},
	}
}

func NewFileTooLargeError(maxBytes, actualBytes int64) *Error {
	return &Error{
		Kind:    KindTooLarge,
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("File exceeds the maximum size of %d MB", maxBytes/(1024*1024)),
		Details: map[string]any{"max_size_bytes": maxBytes, "size_bytes": actualBytes},
	}
}

func NewMediaDownloadError(reason string, err error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodeMediaDownloadFailed,
		Message: "Failed to download media",
		Details: map[string]any{"reason": reason},
		Err:     err,
	}
}

func NewTranscriptionError(reason string, err error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodeTranscriptionFailed,
		Message: "Transcription failed",
		Details: map[string]any{"reason": reason},
		Err:     err,
	}
}

func NewModelNotAvailableError(model string, err error) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Code:    CodeModelNotAvailable,
		Message: "Transcription model is not available",
		Details: map[string]any{"model": model},
		Err:     err,
	}
}

func NewJobNotFoundError(jobID string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeJobNotFound,
		Message: "Job not found",
		Details: map[string]any{"job_id": jobID},
	}
}

func NewJobExpiredError(jobID string) *Error {
	return &Error{
		Kind:    KindGone,
		Code:    CodeJobExpired,
		Message: "Job has expired",
		Details: map[string]any{"job_id": jobID},
	}
}

func NewJobAlreadyFinishedError(jobID string, status JobStatus) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeJobAlreadyFinished,
		Message: fmt.Sprintf("Job is already %s", status),
		Details: map[string]any{"job_id": jobID, "status": string(status)},
	}
}

func NewUseYouTubeEndpointError(url string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeUseYouTubeEndpoint,
		Message: "YouTube URLs must be submitted to /v1/transcriptions/youtube",
		Details: map[string]any{"url": url, "endpoint": "/v1/transcriptions/youtube"},
	}
}

func NewInvalidAPIKeyError() *Error {
	return &Error{
		Kind:    KindUnauthorized,
		Code:    CodeInvalidAPIKey,
		Message: "Invalid or missing API key",
	}
}

func NewRateLimitedError(limit int, window time.Duration) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Code:    CodeRateLimited,
		Message: "Rate limit exceeded",
		Details: map[string]any{"limit": limit, "window_seconds": int(window.Seconds())},
	}
}

// AsError extracts a domain error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns err's kind, KindInternal for non-domain errors.
func KindOf(err error) Kind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return KindInternal
}
