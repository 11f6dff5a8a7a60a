package history

import (
	"context"
	"time"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

// Recorder owns the lifecycle of execution records: open pending, then exactly one
// terminal write.
type Recorder struct {
	store *Store
	now   func() time.Time
}

// NewRecorder creates a recorder backed by store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Open generates a new correlation ID and persists a pending record for it.
// An error here must abort the execution before any collaborator is called.
func (r *Recorder) Open(ctx context.Context, tenantID, ticketID, jobID string) (*Record, error) {
	return r.OpenWithID(ctx, correlation.New(), tenantID, ticketID, jobID)
}

// OpenWithID persists a pending record under an already generated correlation ID
func (r *Recorder) OpenWithID(ctx context.Context, id correlation.ID, tenantID, ticketID, jobID string) (*Record, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestError("correlation ID cannot be empty")
	}

	now := r.now()
	rec := &Record{
		CorrelationID: id.String(),
		TenantID:      tenantID,
		TicketID:      ticketID,
		JobID:         jobID,
		Status:        StatusPending,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.store.Create(ctx, rec); err != nil {
		err = errors.WithDetail(err, "Tenant: "+tenantID)
		return nil, errors.WithDetail(err, "Ticket: "+ticketID)
	}

	logger.FromContext(ctx, nil).Debugw(logger.SymOpen+" Execution record opened",
		logger.FieldCorrelationID, rec.CorrelationID,
		logger.FieldState, rec.Status,
	)
	return rec, nil
}

// Complete moves rec to completed. A record that already left pending yields
// ErrAlreadyTerminal and is not modified.
func (r *Recorder) Complete(ctx context.Context, rec *Record, processingTimeMS int64, md Metadata) error {
	if rec.Status.IsTerminal() {
		return errors.Wrapf(ErrAlreadyTerminal, "execution %s is %s", rec.CorrelationID, rec.Status)
	}

	next := *rec
	now := r.now()
	source := md.Source
	next.Status = StatusCompleted
	next.CompletedAt = &now
	next.ProcessingTimeMS = &processingTimeMS
	next.ContextSuccessCount = md.ContextSuccess
	next.ContextFailureCount = md.ContextFailure
	next.EnhancementSource = &source
	next.ErrorMessage = nil
	next.UpdatedAt = now

	return r.terminate(ctx, rec, &next)
}

// Fail moves rec to failed with errorMessage. The context counts of md are kept;
// md.Source is ignored since a failed execution posted nothing.
func (r *Recorder) Fail(ctx context.Context, rec *Record, errorMessage string, md Metadata) error {
	if rec.Status.IsTerminal() {
		return errors.Wrapf(ErrAlreadyTerminal, "execution %s is %s", rec.CorrelationID, rec.Status)
	}

	next := *rec
	now := r.now()
	elapsed := now.Sub(rec.StartedAt).Milliseconds()
	next.Status = StatusFailed
	next.CompletedAt = &now
	next.ProcessingTimeMS = &elapsed
	next.ContextSuccessCount = md.ContextSuccess
	next.ContextFailureCount = md.ContextFailure
	next.EnhancementSource = nil
	next.ErrorMessage = &errorMessage
	next.UpdatedAt = now

	return r.terminate(ctx, rec, &next)
}

func (r *Recorder) terminate(ctx context.Context, rec, next *Record) error {
	if err := r.store.Terminate(ctx, next); err != nil {
		return err
	}
	*rec = *next

	logger.FromContext(ctx, nil).Debugw(logger.SymClose+" Execution record closed",
		logger.FieldCorrelationID, rec.CorrelationID,
		logger.FieldState, rec.Status,
	)
	return nil
}

// Get retrieves a record by correlation ID
func (r *Recorder) Get(ctx context.Context, correlationID string) (*Record, error) {
	return r.store.Get(ctx, correlationID)
}

// List returns records matching filter and the total match count
func (r *Recorder) List(ctx context.Context, filter Filter) ([]*Record, int, error) {
	return r.store.List(ctx, filter)
}

// Stale returns records still pending after olderThan. These are executions that were
// abandoned at the hard limit or lost to a crash; they are reported, never resolved here.
func (r *Recorder) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]*Record, error) {
	return r.store.ListPendingBefore(ctx, r.now().Add(-olderThan), limit)
}
