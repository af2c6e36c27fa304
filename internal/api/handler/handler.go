package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/jobstore"
	"github.com/cuongbtq/transcriber/internal/transcription"
	"github.com/gin-gonic/gin"
)

// OwnerKey is the gin context key holding the caller identity set by the
// auth middleware.
const OwnerKey = "owner"

// Transcriber serves synchronous transcriptions and queues long ones.
type Transcriber interface {
	TranscribeVideo(ctx context.Context, req transcription.VideoRequest) (*transcription.Outcome, error)
	TranscribeMedia(ctx context.Context, req transcription.MediaRequest) (*transcription.Outcome, error)
}

// JobService reads and cancels jobs.
type JobService interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	CancelJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter jobstore.ListFilter) (*jobstore.ListPage, error)
}

// HealthChecker is anything /v1/health can probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Component is a named health check.
type Component struct {
	Name    string
	Checker HealthChecker
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Transcriber    Transcriber
	Jobs           JobService
	Components     []Component
	MaxUploadBytes int64
	Version        string
	Environment    string
}

// OwnerFrom returns the caller identity, empty when auth did not run.
func OwnerFrom(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
