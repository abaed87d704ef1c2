// -----------------------------------------------------------------------
// Job - One end-to-end request to stylize one image
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Job is the validated tuple handed to the queue by the request layer.
// The queue owns it until dequeued; the pipeline deletes InputPath exactly once.
type Job struct {
	ID          string    `json:"id" validate:"required"`
	InputPath   string    `json:"input_path" validate:"required"`
	DisplayName string    `json:"display_name" validate:"required"`
	Prompt      string    `json:"prompt"`
	NotifyEmail string    `json:"notify_email,omitempty" validate:"omitempty,email"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewJob creates a job with a fresh ID
func NewJob(inputPath, displayName, prompt, notifyEmail string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		InputPath:   inputPath,
		DisplayName: displayName,
		Prompt:      prompt,
		NotifyEmail: notifyEmail,
		CreatedAt:   time.Now(),
	}
}

// Validate validates the job using go-playground/validator.
func (j *Job) Validate() error {
	validate := validator.New()
	return validate.Struct(j)
}

// JobStatus is the lifecycle state recorded in job history
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusSuccess  JobStatus = "success"
	JobStatusNotFound JobStatus = "not_found"
	JobStatusError    JobStatus = "error"
)

// JobRecord is the persisted history entry for a job.
// InputPath is kept so history shows where the upload lived, not that it still exists.
type JobRecord struct {
	ID          string    `json:"id" badgerhold:"key"`
	DisplayName string    `json:"display_name"`
	Prompt      string    `json:"prompt"`
	NotifyEmail string    `json:"notify_email,omitempty"`
	InputPath   string    `json:"input_path"`
	Status      JobStatus `json:"status" badgerhold:"index"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// NewJobRecord creates a queued history record for job
func NewJobRecord(job *Job) *JobRecord {
	return &JobRecord{
		ID:          job.ID,
		DisplayName: job.DisplayName,
		Prompt:      job.Prompt,
		NotifyEmail: job.NotifyEmail,
		InputPath:   job.InputPath,
		Status:      JobStatusQueued,
		CreatedAt:   job.CreatedAt,
	}
}
