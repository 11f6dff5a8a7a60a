// Package async provides the persistent job queue and worker pool that run ticket
// enhancements in the background.
package async

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/ticketpulse/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var allStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// IsValidStatus reports whether s names a JobStatus, e.g. from a query string
func IsValidStatus(s string) bool {
	return slices.Contains(allStatuses, JobStatus(s))
}

// IsTerminal reports whether the job will not run again
func (s JobStatus) IsTerminal() bool {
	return s != JobStatusQueued && s != JobStatusRunning && slices.Contains(allStatuses, s)
}

// Progress counts pipeline stages. Stage is live only and never stored.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage,omitempty"`
}

// Percentage is 0 until Total is known
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one unit of background work.
//
// The infrastructure is domain-agnostic: HandlerName routes the job to a registered
// JobHandler, which owns the structure of Payload.
type Job struct {
	ID            string          `json:"id"`
	HandlerName   string          `json:"handler_name"`      // "ticket.enhance"
	Payload       json.RawMessage `json:"payload,omitempty"` // Handler-specific data
	Source        string          `json:"source"`            // What the job is about, for logs and listing ("tenant/ticket")
	Status        JobStatus       `json:"status"`
	Progress      Progress        `json:"progress"`
	CorrelationID string          `json:"correlation_id,omitempty"` // Set by handlers that trace their execution
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for handlerName
func NewJob(handlerName string, source string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.NewInvalidRequestError("job for %q has no handler name", source)
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (j *Job) touch() time.Time {
	j.UpdatedAt = time.Now().UTC()
	return j.UpdatedAt
}

// Start moves a queued job to running
func (j *Job) Start() {
	now := j.touch()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// finish stamps a terminal status. msg lands in Error, empty for success.
func (j *Job) finish(status JobStatus, msg string) {
	now := j.touch()
	j.Status = status
	j.Error = msg
	j.CompletedAt = &now
}

func (j *Job) Complete() { j.finish(JobStatusCompleted, "") }

// Fail records err as the job's error. A nil err still fails the job.
func (j *Job) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	j.finish(JobStatusFailed, msg)
}

func (j *Job) Cancel(reason string) { j.finish(JobStatusCancelled, reason) }

// UpdateProgress moves the job to stage number current. Only the number is persisted.
func (j *Job) UpdateProgress(current int, stage string) {
	j.Progress.Current = current
	j.Progress.Stage = stage
	j.touch()
}
