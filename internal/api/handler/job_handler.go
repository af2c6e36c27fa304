package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcriber/internal/api/dto"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/format"
	"github.com/cuongbtq/transcriber/internal/jobstore"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// GetJob handles GET /v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	out := dto.NewJobDTO(job)
	if job.Status == domain.JobStatusCompleted && job.Result != nil && out.Format != domain.FormatJSON {
		body, _, err := format.Render(out.Format, job.Result.Segments)
		if err != nil {
			RespondError(c, h.logger, err)
			return
		}
		out.Output = body
	}

	c.JSON(http.StatusOK, out)
}

// CancelJob handles DELETE /v1/jobs/:job_id
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	if _, err := h.jobs.CancelJob(c.Request.Context(), job.ID); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancelled via API", slog.String("job_id", job.ID))
	c.Status(http.StatusNoContent)
}

// ListJobs handles GET /v1/jobs
// Supports filtering by status and type with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		RespondError(c, h.logger, domain.NewInvalidInputError("query", err.Error()))
		return
	}

	filter, err := listFilter(req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	filter.Owner = OwnerFrom(c)

	page, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	resp := dto.ListJobsResponse{
		Jobs:       make([]dto.JobDTO, 0, len(page.Jobs)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, job := range page.Jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobDTO(job))
	}

	c.JSON(http.StatusOK, resp)
}

// ownedJob loads the job named in the path. Jobs of other callers are
// reported as not found.
func (h *JobHandler) ownedJob(c *gin.Context) (*domain.Job, error) {
	jobID := c.Param("job_id")
	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != OwnerFrom(c) {
		return nil, domain.NewJobNotFoundError(jobID)
	}
	return job, nil
}

func listFilter(req dto.ListJobsRequest) (jobstore.ListFilter, error) {
	var filter jobstore.ListFilter

	switch s := domain.JobStatus(req.Status); s {
	case "", domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
		filter.Status = s
	default:
		return filter, domain.NewInvalidInputError("status", "unknown job status")
	}

	switch t := domain.JobType(req.JobType); t {
	case "", domain.JobTypePlatformVideo, domain.JobTypeMediaUpload, domain.JobTypeMediaURL:
		filter.Type = t
	default:
		return filter, domain.NewInvalidInputError("type", "unknown job type")
	}

	if req.PageSize < 0 || req.PageSize > jobstore.MaxPageSize {
		return filter, domain.NewInvalidInputError("page_size", "page_size must be between 1 and 100")
	}
	filter.PageSize = req.PageSize

	cursor, err := jobstore.DecodeCursor(req.Cursor)
	if err != nil {
		return filter, domain.NewInvalidInputError("cursor", err.Error())
	}
	filter.Cursor = cursor

	return filter, nil
}
