package async

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/teranos/ticketpulse/errors"
)

// SubscriberChannelBufferSize bounds how far a subscriber may fall behind before
// updates to it are dropped.
const SubscriberChannelBufferSize = 100

// ErrJobTerminal is returned when finishing a job that already finished
var ErrJobTerminal = errors.New("job already finished")

// Queue is the persistent FIFO of jobs shared by the dispatcher and the worker pool.
// Every state change is written through to the store and then fanned out to
// subscribers as a copy of the job.
type Queue struct {
	store *Store

	mu          sync.RWMutex
	subscribers []chan *Job
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// jobDetail attaches the identifying fields of job to err
func jobDetail(err error, job *Job) error {
	err = errors.WithDetailf(err, "Job ID: %s", job.ID)
	if job.HandlerName != "" {
		err = errors.WithDetailf(err, "Handler: %s", job.HandlerName)
	}
	if job.Source != "" {
		err = errors.WithDetailf(err, "Source: %s", job.Source)
	}
	return err
}

func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		return jobDetail(errors.Wrap(err, "failed to enqueue job"), job)
	}
	q.publish(job)
	return nil
}

// Dequeue claims the oldest queued job and marks it running. It returns nil, nil
// when the queue is empty.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextQueuedJob()
	if err != nil || job == nil {
		return nil, errors.Wrap(err, "failed to get queued job")
	}

	job.Start()
	if err := q.save(job, "failed to mark job as running"); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.GetJob(id)
}

// UpdateJob persists progress or other in-flight changes to job.
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(job, "failed to update job")
}

func (q *Queue) CompleteJob(id string) error {
	return q.finish(id, "complete", (*Job).Complete)
}

func (q *Queue) FailJob(id string, jobErr error) error {
	return q.finish(id, "fail", func(job *Job) { job.Fail(jobErr) })
}

// CancelJob marks a job as cancelled. Queued jobs are never picked up afterwards;
// a running job's handler keeps going until its context is cancelled.
func (q *Queue) CancelJob(id string, reason string) error {
	return q.finish(id, "cancel", func(job *Job) { job.Cancel(reason) })
}

// finish moves a job to a terminal status. A job that is already terminal is left
// as is and the error is marked ErrJobTerminal.
func (q *Queue) finish(id, verb string, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.WithDetailf(errors.Wrapf(err, "failed to %s job %s", verb, id), "Job ID: %s", id)
	}
	if job.Status.IsTerminal() {
		return jobDetail(errors.Mark(errors.Newf("job %s is already %s", id, job.Status), ErrJobTerminal), job)
	}

	apply(job)
	return q.save(job, "failed to "+verb+" job")
}

// save writes job and publishes it. q.mu must be held.
func (q *Queue) save(job *Job, msg string) error {
	if err := q.store.UpdateJob(job); err != nil {
		err = jobDetail(errors.Wrap(err, msg), job)
		return errors.WithDetailf(err, "Status: %s", job.Status)
	}
	q.publish(job)
	return nil
}

// ListJobs returns the newest jobs first; status nil means any status.
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListJobs(status, limit)
}

// ListActiveJobs returns queued and running jobs.
func (q *Queue) ListActiveJobs(limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListActiveJobs(limit)
}

// Subscribe registers a buffered channel for job updates. Pair it with Unsubscribe.
func (q *Queue) Subscribe() chan *Job {
	ch := make(chan *Job, SubscriberChannelBufferSize)

	q.mu.Lock()
	q.subscribers = append(q.subscribers, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe stops deliveries to ch. It does not close ch; the subscriber owns it.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = slices.DeleteFunc(q.subscribers, func(sub chan *Job) bool { return sub == ch })
}

// publish hands each subscriber its own copy of job without blocking; a full
// channel misses the update. q.mu must be held.
func (q *Queue) publish(job *Job) {
	for _, ch := range q.subscribers {
		snapshot := *job
		select {
		case ch <- &snapshot:
		default:
		}
	}
}

// Cleanup deletes finished jobs older than olderThan and returns how many went.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats counts jobs per status
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	counts, err := q.store.CountByStatus()
	q.mu.RUnlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// GetJobCounts is the cheap subset of GetStats used by system metrics.
func (q *Queue) GetJobCounts() (queued, running int, err error) {
	stats, err := q.GetStats()
	if err != nil {
		return 0, 0, err
	}
	return stats.Queued, stats.Running, nil
}
