package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cuongbtq/transcriber/internal/api/dto"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/format"
	"github.com/cuongbtq/transcriber/internal/media"
	"github.com/cuongbtq/transcriber/internal/transcription"
	"github.com/gin-gonic/gin"
)

// multipartSlack leaves room for form fields and part headers on top of the
// file size limit.
const multipartSlack = 1 << 20

// TranscriptionHandler handles the transcription endpoints
type TranscriptionHandler struct {
	logger         *slog.Logger
	transcriber    Transcriber
	maxUploadBytes int64
}

// NewTranscriptionHandler creates a new TranscriptionHandler instance
func NewTranscriptionHandler(deps *Dependencies) *TranscriptionHandler {
	return &TranscriptionHandler{
		logger:         deps.Logger,
		transcriber:    deps.Transcriber,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// TranscribeYouTube handles POST /v1/transcriptions/youtube
func (h *TranscriptionHandler) TranscribeYouTube(c *gin.Context) {
	var req dto.YouTubeTranscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.logger, domain.NewInvalidInputError("body", err.Error()))
		return
	}

	outputFormat, err := parseCommon(req.Format, req.WebhookURL)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.logger.Info("YouTube transcription requested",
		slog.String("url", req.URL),
		slog.Bool("force_asr", req.ForceASR),
		slog.Bool("diarise", req.Diarise),
		slog.String("format", string(outputFormat)),
	)

	out, err := h.transcriber.TranscribeVideo(c.Request.Context(), transcription.VideoRequest{
		URL:         req.URL,
		Language:    req.Language,
		TranslateTo: req.TranslateTo,
		Diarise:     req.Diarise,
		ForceASR:    req.ForceASR,
		Format:      outputFormat,
		WebhookURL:  req.WebhookURL,
		Owner:       OwnerFrom(c),
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.respondOutcome(c, out)
}

// TranscribeMedia handles POST /v1/transcriptions/media
func (h *TranscriptionHandler) TranscribeMedia(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartSlack)
	}

	var form dto.MediaTranscriptionForm
	if err := c.ShouldBind(&form); err != nil {
		RespondError(c, h.logger, h.formError(c, err))
		return
	}

	outputFormat, err := parseCommon(form.Format, form.WebhookURL)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	req := transcription.MediaRequest{
		URL:         form.URL,
		Language:    form.Language,
		TranslateTo: form.TranslateTo,
		Diarise:     form.Diarise,
		Format:      outputFormat,
		WebhookURL:  form.WebhookURL,
		Owner:       OwnerFrom(c),
	}

	fileHeader, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		RespondError(c, h.logger, h.formError(c, err))
		return
	default:
		file, err := fileHeader.Open()
		if err != nil {
			RespondError(c, h.logger, domain.NewInvalidInputError("file", err.Error()))
			return
		}
		defer file.Close()

		req.Upload = &media.Upload{
			Reader:      file,
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Size:        fileHeader.Size,
		}
	}

	h.logger.Info("Media transcription requested",
		slog.Bool("upload", req.Upload != nil),
		slog.String("url", req.URL),
		slog.String("format", string(outputFormat)),
	)

	out, err := h.transcriber.TranscribeMedia(c.Request.Context(), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.respondOutcome(c, out)
}

func (h *TranscriptionHandler) formError(c *gin.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewFileTooLargeError(h.maxUploadBytes, c.Request.ContentLength)
	}
	return domain.NewInvalidInputError("form", err.Error())
}

// respondOutcome writes 202 with the job for queued work, otherwise the
// result in the requested format.
func (h *TranscriptionHandler) respondOutcome(c *gin.Context, out *transcription.Outcome) {
	if out.Async() {
		h.logger.Info("Transcription queued",
			slog.String("job_id", out.Job.ID),
			slog.String("job_type", string(out.Job.Type)),
		)
		c.JSON(http.StatusAccepted, dto.NewJobDTO(out.Job))
		return
	}

	if out.Format == "" || out.Format == domain.FormatJSON {
		c.JSON(http.StatusOK, out.Result)
		return
	}

	body, contentType, err := format.Render(out.Format, out.Result.Segments)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, contentType, []byte(body))
}

func parseCommon(rawFormat, webhookURL string) (domain.Format, error) {
	outputFormat, ok := domain.ParseFormat(rawFormat)
	if !ok {
		return "", domain.NewInvalidInputError("format", "format must be one of json, text, srt, vtt")
	}
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", domain.NewInvalidInputError("webhookUrl", "webhookUrl must be an absolute http(s) URL")
		}
	}
	return outputFormat, nil
}
