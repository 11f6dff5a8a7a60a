// Package history keeps the durable audit trail of enhancement executions.
//
// Every execution gets exactly one Record, created pending before any external
// collaborator is called and moved to completed or failed exactly once.
// Records are never deleted by the pipeline.
package history

import (
	"time"
)

// Status is the lifecycle state of an execution record
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source records which path produced the posted enhancement text
type Source string

const (
	SourceSynthesis Source = "synthesis"
	SourceFallback  Source = "fallback"
)

// Record is the persisted trail of one pipeline execution
type Record struct {
	// Identity
	CorrelationID string `json:"correlation_id"`
	TenantID      string `json:"tenant_id"`
	TicketID      string `json:"ticket_id"`
	JobID         string `json:"job_id,omitempty"` // Async job that ran the execution, if any

	Status Status `json:"status"`

	// Timing
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`       // Set exactly once, at the terminal write
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"` // Set exactly once, at the terminal write

	// Outcome
	ContextSuccessCount int     `json:"context_success_count"`
	ContextFailureCount int     `json:"context_failure_count"`
	EnhancementSource   *Source `json:"enhancement_source,omitempty"` // Only on completed
	ErrorMessage        *string `json:"error_message,omitempty"`      // Only on failed

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata is the outcome summary written when a record is closed
type Metadata struct {
	ContextSuccess int
	ContextFailure int
	Source         Source
}

// Filter narrows a record listing. Zero values match everything.
type Filter struct {
	Status   Status
	TenantID string
	TicketID string
	Limit    int
	Offset   int
}

// DefaultListLimit applies when Filter.Limit is zero
const DefaultListLimit = 50
