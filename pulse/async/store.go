package async

import (
	"database/sql"
	"time"

	"github.com/teranos/ticketpulse/errors"
)

// jobColumns is the select list every query uses; scanJob reads it in this order.
const jobColumns = `id, handler_name, source, status,
	progress_current, progress_total,
	payload, correlation_id, error,
	created_at, started_at, completed_at, updated_at`

// Store persists jobs in the async_jobs table
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateJob(job *Job) error {
	_, err := s.db.Exec(`
		INSERT INTO async_jobs (
			id, handler_name, source, status,
			progress_current, progress_total,
			payload, correlation_id, error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.HandlerName, job.Source, job.Status,
		job.Progress.Current, job.Progress.Total,
		nullString(string(job.Payload)), nullString(job.CorrelationID), nullString(job.Error),
		job.CreatedAt, job.UpdatedAt,
	)
	return errors.Wrap(err, "failed to create job")
}

// GetJob returns a not-found error for an unknown id.
func (s *Store) GetJob(id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM async_jobs WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errors.NewNotFoundError("job %s", id)
	case err != nil:
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob writes the mutable columns. Payload, source and handler never change
// after creation. A job that already reached a terminal status is left untouched and
// the error is marked ErrJobTerminal, so a late progress write cannot undo a cancel.
func (s *Store) UpdateJob(job *Job) error {
	res, err := s.db.Exec(`
		UPDATE async_jobs
		SET status = ?, progress_current = ?, progress_total = ?,
		    correlation_id = ?, error = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		job.Status, job.Progress.Current, job.Progress.Total,
		nullString(job.CorrelationID), nullString(job.Error),
		job.StartedAt, job.CompletedAt, job.UpdatedAt,
		job.ID,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		return nil
	}

	var status JobStatus
	err = s.db.QueryRow(`SELECT status FROM async_jobs WHERE id = ?`, job.ID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errors.NewNotFoundError("job %s", job.ID)
	case err != nil:
		return errors.Wrap(err, "failed to read job status")
	}
	return errors.Mark(errors.Newf("job %s is already %s", job.ID, status), ErrJobTerminal)
}

func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	if status == nil {
		return s.queryJobs("jobs", `SELECT `+jobColumns+` FROM async_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	}
	return s.queryJobs("jobs",
		`SELECT `+jobColumns+` FROM async_jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		*status, limit)
}

func (s *Store) ListActiveJobs(limit int) ([]*Job, error) {
	return s.queryJobs("active jobs",
		`SELECT `+jobColumns+` FROM async_jobs
		WHERE status IN (?, ?)
		ORDER BY created_at DESC LIMIT ?`,
		JobStatusQueued, JobStatusRunning, limit)
}

// NextQueuedJob returns the oldest queued job, or nil when the queue is empty.
// Jobs created in the same instant come out in insertion order.
func (s *Store) NextQueuedJob() (*Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM async_jobs
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, JobStatusQueued))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "failed to get next queued job")
	}
	return job, nil
}

func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM async_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "error iterating job counts")
}

// CleanupOldJobs deletes finished jobs last touched before now-olderThan.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM async_jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

func (s *Store) queryJobs(what, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", what)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrapf(rows.Err(), "error iterating %s", what)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row selected with jobColumns
func scanJob(row rowScanner) (*Job, error) {
	var (
		job                            Job
		payload, correlationID, errMsg sql.NullString
		startedAt, completedAt         sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.HandlerName, &job.Source, &job.Status,
		&job.Progress.Current, &job.Progress.Total,
		&payload, &correlationID, &errMsg,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.CorrelationID = correlationID.String
	job.Error = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
