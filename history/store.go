package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/ticketpulse/errors"
)

// ErrAlreadyTerminal is returned when a terminal write targets a record that already
// completed or failed. Callers must report it; the record is left untouched.
var ErrAlreadyTerminal = errors.New("execution record is already terminal")

const recordColumns = `correlation_id, tenant_id, ticket_id, job_id, status,
		started_at, completed_at, processing_time_ms,
		context_success_count, context_failure_count,
		enhancement_source, error_message,
		created_at, updated_at`

// Store handles persistence of execution records
type Store struct {
	db *sql.DB
}

// NewStore creates a new history store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new pending record
func (s *Store) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO enhancement_history (
			correlation_id, tenant_id, ticket_id, job_id, status,
			started_at, context_success_count, context_failure_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	jobID := sql.NullString{String: rec.JobID, Valid: rec.JobID != ""}

	_, err := s.db.ExecContext(ctx, query,
		rec.CorrelationID,
		rec.TenantID,
		rec.TicketID,
		jobID,
		rec.Status,
		rec.StartedAt,
		rec.ContextSuccessCount,
		rec.ContextFailureCount,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create execution record")
		return errors.WithDetail(err, "Correlation ID: "+rec.CorrelationID)
	}

	return nil
}

// Terminate writes the terminal state of rec. The update only applies while the stored
// row is still pending, so concurrent or repeated terminal writes cannot overwrite each other.
func (s *Store) Terminate(ctx context.Context, rec *Record) error {
	query := `
		UPDATE enhancement_history
		SET status = ?,
		    completed_at = ?,
		    processing_time_ms = ?,
		    context_success_count = ?,
		    context_failure_count = ?,
		    enhancement_source = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE correlation_id = ? AND status = ?
	`

	var completedAt, processingTime, source, errorMessage interface{}
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	if rec.ProcessingTimeMS != nil {
		processingTime = *rec.ProcessingTimeMS
	}
	if rec.EnhancementSource != nil {
		source = string(*rec.EnhancementSource)
	}
	if rec.ErrorMessage != nil {
		errorMessage = *rec.ErrorMessage
	}

	result, err := s.db.ExecContext(ctx, query,
		rec.Status,
		completedAt,
		processingTime,
		rec.ContextSuccessCount,
		rec.ContextFailureCount,
		source,
		errorMessage,
		rec.UpdatedAt,
		rec.CorrelationID,
		StatusPending,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update execution record")
		return errors.WithDetail(err, "Correlation ID: "+rec.CorrelationID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing updated: either the record does not exist or it already left pending
	if _, err := s.Get(ctx, rec.CorrelationID); err != nil {
		return err
	}
	return errors.Wrapf(ErrAlreadyTerminal, "execution %s", rec.CorrelationID)
}

// Get retrieves a record by correlation ID
func (s *Store) Get(ctx context.Context, correlationID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM enhancement_history WHERE correlation_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution %s", correlationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution record")
	}
	return rec, nil
}

// List returns records matching filter, newest first, plus the total match count
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, int, error) {
	baseQuery := ` FROM enhancement_history WHERE 1 = 1`
	var args []interface{}

	if filter.Status != "" {
		baseQuery += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.TenantID != "" {
		baseQuery += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.TicketID != "" {
		baseQuery += ` AND ticket_id = ?`
		args = append(args, filter.TicketID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count execution records")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + recordColumns + baseQuery + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListPendingBefore returns pending records started before cutoff, oldest first
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + recordColumns + `
		FROM enhancement_history
		WHERE status = ? AND started_at < ?
		ORDER BY started_at ASC
		LIMIT ?`

	return s.query(ctx, query, StatusPending, cutoff.UTC(), limit)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list execution records")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating execution records")
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var jobID, source, errorMessage sql.NullString
	var completedAt sql.NullTime
	var processingTime sql.NullInt64

	err := row.Scan(
		&rec.CorrelationID,
		&rec.TenantID,
		&rec.TicketID,
		&jobID,
		&rec.Status,
		&rec.StartedAt,
		&completedAt,
		&processingTime,
		&rec.ContextSuccessCount,
		&rec.ContextFailureCount,
		&source,
		&errorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		rec.JobID = jobID.String
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if processingTime.Valid {
		rec.ProcessingTimeMS = &processingTime.Int64
	}
	if source.Valid {
		src := Source(source.String)
		rec.EnhancementSource = &src
	}
	if errorMessage.Valid {
		rec.ErrorMessage = &errorMessage.String
	}

	return &rec, nil
}
