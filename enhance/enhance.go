// Package enhance runs the ticket enhancement pipeline: gather context, synthesize an
// enhancement (or fall back to a deterministic rendering), post it to the ticketing
// system and record the outcome.
//
// State machine:
//
//	INIT -> CONTEXT -> SYNTHESIZE -> UPDATE -> DONE
//	   \________________________________\____> FAILED
//
// Context and synthesis failures degrade the execution; only a history-open failure or
// an update failure ends it early.
package enhance

import (
	"context"
	"time"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
)

// State is a pipeline state
type State string

const (
	StateInit       State = "INIT"
	StateContext    State = "CONTEXT"
	StateSynthesize State = "SYNTHESIZE"
	StateUpdate     State = "UPDATE"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// DefaultContextTimeout bounds the CONTEXT phase independently of the task limits
const DefaultContextTimeout = 30 * time.Second

// UpdateRejectedMessage is recorded when the ticketing system answers but refuses the comment
const UpdateRejectedMessage = "ServiceDesk update failed"

var (
	// ErrHistoryOpen means the execution record could not be created; no collaborator was called.
	ErrHistoryOpen = errors.New("failed to open execution record")
	// ErrUpdateFailed means the enhancement was not posted; the record is failed.
	ErrUpdateFailed = errors.New("ticket update failed")
	// ErrHistoryWrite means the terminal write did not land; the record may still be pending.
	ErrHistoryWrite = errors.New("failed to record execution outcome")
	// ErrAbandoned means the execution context ended mid-run; the record is left pending.
	ErrAbandoned = errors.New("execution abandoned")
)

// Event is an inbound ticket event, the payload of a ticket.enhance job
type Event struct {
	TenantID    string `json:"tenant_id"`
	TicketID    string `json:"ticket_id"`
	Description string `json:"description"`
	JobID       string `json:"job_id,omitempty"`
}

// Validate checks the fields every execution needs
func (e Event) Validate() error {
	if e.TenantID == "" {
		return errors.NewInvalidRequestError("tenant_id is required")
	}
	if e.TicketID == "" {
		return errors.NewInvalidRequestError("ticket_id is required")
	}
	return nil
}

// GatherRequest is the input of the CONTEXT phase
type GatherRequest struct {
	TenantID      string
	TicketID      string
	Description   string
	CorrelationID correlation.ID
	Timeout       time.Duration
}

// ContextGatherer retrieves supporting data for a ticket. It may return a partial
// bundle together with an error; the pipeline keeps whatever it gets.
type ContextGatherer interface {
	Gather(ctx context.Context, req GatherRequest) (*Bundle, error)
}

// Synthesizer turns a bundle into enhancement text
type Synthesizer interface {
	Synthesize(ctx context.Context, bundle *Bundle, correlationID string) (string, error)
}

// CommentRequest is the input of the UPDATE phase
type CommentRequest struct {
	BaseURL       string
	APIKey        string
	TicketID      string
	Text          string
	CorrelationID correlation.ID
}

// TicketUpdater posts a comment to the ticketing system. false with a nil error means
// the system answered and rejected the comment.
type TicketUpdater interface {
	PostComment(ctx context.Context, req CommentRequest) (bool, error)
}

// HistoryRecorder persists the execution record lifecycle
type HistoryRecorder interface {
	OpenWithID(ctx context.Context, id correlation.ID, tenantID, ticketID, jobID string) (*history.Record, error)
	Complete(ctx context.Context, rec *history.Record, processingTimeMS int64, md history.Metadata) error
	Fail(ctx context.Context, rec *history.Record, errorMessage string, md history.Metadata) error
}

// Endpoint is a tenant's ticketing system location and credentials
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// Config is everything the pipeline needs that is not a collaborator.
// It is passed at construction; phases never read global configuration.
type Config struct {
	ContextTimeout time.Duration
	Default        Endpoint
	Tenants        map[string]Endpoint
}

// EndpointFor returns the endpoint for tenantID, falling back to Default
func (c Config) EndpointFor(tenantID string) Endpoint {
	if ep, ok := c.Tenants[tenantID]; ok && ep.BaseURL != "" {
		if ep.APIKey == "" {
			ep.APIKey = c.Default.APIKey
		}
		return ep
	}
	return c.Default
}

// Outcome describes a finished (or abandoned) execution
type Outcome struct {
	CorrelationID  correlation.ID  `json:"correlation_id"`
	State          State           `json:"state"`
	Text           string          `json:"text,omitempty"`
	Source         history.Source  `json:"source,omitempty"`
	ContextSuccess int             `json:"context_success_count"`
	ContextFailure int             `json:"context_failure_count"`
	Elapsed        time.Duration   `json:"elapsed"`
	Record         *history.Record `json:"record,omitempty"`
}
