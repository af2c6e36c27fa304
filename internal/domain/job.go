package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobParams are the request options a job was created with.
type JobParams struct {
	Language    string `json:"language,omitempty"`
	TranslateTo string `json:"translate_to,omitempty"`
	Diarise     bool   `json:"diarise"`
	Format      Format `json:"format"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// JobError is the error payload stored on a failed job.
type JobError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Job is the persisted record of one asynchronous transcription.
type Job struct {
	ID          string     `json:"job_id"`
	Type        JobType    `json:"job_type"`
	Status      JobStatus  `json:"status"`
	InputRef    string     `json:"input_ref"`
	MediaRef    string     `json:"media_ref,omitempty"`
	Params      JobParams  `json:"params"`
	Progress    float64    `json:"progress"`
	WorkerID    string     `json:"worker_id,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	WebhookURL  string     `json:"webhook_url,omitempty"`
	WebhookSent bool       `json:"webhook_sent"`
}

// NewJob returns a queued job with zero progress.
func NewJob(id string, jobType JobType, inputRef string, params JobParams, webhookURL string, now time.Time) *Job {
	return &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobStatusQueued,
		InputRef:   inputRef,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
		WebhookURL: webhookURL,
	}
}

// ErrInvalidTransition is returned when a job is moved to a status its current
// status cannot reach, such as claiming a job that is already processing.
var ErrInvalidTransition = errors.New("invalid job transition")

var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true,
		JobStatusFailed:     true,
	},
	JobStatusProcessing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
}

func (j *Job) transition(to JobStatus) error {
	if j.Status.IsTerminal() {
		return NewJobAlreadyFinishedError(j.ID, j.Status)
	}
	if !validTransitions[j.Status][to] {
		return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// MarkProcessing assigns the job to workerID.
func (j *Job) MarkProcessing(workerID string, now time.Time) error {
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	j.WorkerID = workerID
	j.StartedAt = &now
	return nil
}

// MarkCompleted stores the result and sets progress to 100.
func (j *Job) MarkCompleted(result *Result, now time.Time) error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.Result = result
	j.Error = nil
	j.CompletedAt = &now
	return nil
}

// MarkFailed stores the error payload. Progress is left where it was.
func (j *Job) MarkFailed(jobErr *JobError, now time.Time) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.Error = jobErr
	j.Result = nil
	j.CompletedAt = &now
	return nil
}

// Cancel fails a job that has not finished yet.
func (j *Job) Cancel(now time.Time) error {
	if j.Status.IsTerminal() {
		return NewJobAlreadyFinishedError(j.ID, j.Status)
	}
	return j.MarkFailed(&JobError{
		Code:    CodeJobCancelled,
		Message: "Job cancelled by user",
	}, now)
}

// UpdateProgress raises progress to pct. Lower values are ignored and the
// value stays below 100 until the job completes.
func (j *Job) UpdateProgress(pct float64, now time.Time) error {
	if j.Status.IsTerminal() {
		return NewJobAlreadyFinishedError(j.ID, j.Status)
	}
	if pct > MaxActiveProgress {
		pct = MaxActiveProgress
	}
	if pct > j.Progress {
		j.Progress = pct
	}
	return nil
}

// JobErrorFrom converts err into a job error payload. Domain errors keep
// their code; anything else becomes PROCESSING_ERROR.
func JobErrorFrom(err error) *JobError {
	if de, ok := AsError(err); ok {
		return &JobError{Code: de.Code, Message: de.Message, Details: de.Details}
	}
	return &JobError{Code: CodeProcessingError, Message: err.Error()}
}
