package dto

import (
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
)

type ListJobsRequest struct {
	Status   string `form:"status"`
	JobType  string `form:"type"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

// JobDTO is the public view of a job. Output carries the result rendered in
// the job's requested format when that format is not json.
type JobDTO struct {
	JobID       string           `json:"job_id"`
	JobType     domain.JobType   `json:"job_type"`
	Status      domain.JobStatus `json:"status"`
	Progress    float64          `json:"progress"`
	Format      domain.Format    `json:"format"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	StartedAt   string           `json:"started_at,omitempty"`
	CompletedAt string           `json:"completed_at,omitempty"`
	Result      *domain.Result   `json:"result,omitempty"`
	Error       *domain.JobError `json:"error,omitempty"`
	Output      string           `json:"output,omitempty"`
	WebhookSent bool             `json:"webhook_sent"`
}

// NewJobDTO converts a job record without rendering output.
func NewJobDTO(job *domain.Job) JobDTO {
	format := job.Params.Format
	if format == "" {
		format = domain.FormatJSON
	}
	out := JobDTO{
		JobID:       job.ID,
		JobType:     job.Type,
		Status:      job.Status,
		Progress:    job.Progress,
		Format:      format,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
		Result:      job.Result,
		Error:       job.Error,
		WebhookSent: job.WebhookSent,
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}
