package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/db"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs are examined on startup
	MaxOrphanedJobsToRecover = 1000

	// OrphanedJobError is recorded on jobs found running at startup
	OrphanedJobError = "interrupted: worker pool restarted while job was running"

	// ShutdownCancelReason is recorded on jobs cancelled by Stop
	ShutdownCancelReason = "worker pool shutting down"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(logger.SymOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(logger.SymClose+" "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(logger.SymPulse+" "+msg, keysAndValues...)
}

// JobExecutor runs a dequeued job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers         int           `json:"workers"`          // Number of concurrent workers
	PollInterval    time.Duration `json:"poll_interval"`    // How often idle workers check for new jobs
	StopTimeout     time.Duration `json:"stop_timeout"`     // How long Stop waits for running jobs
	Retention       time.Duration `json:"retention"`        // Finished jobs older than this are deleted (0 keeps them)
	CleanupInterval time.Duration `json:"cleanup_interval"` // How often the janitor runs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:         4,
		PollInterval:    500 * time.Millisecond,
		StopTimeout:     30 * time.Second,
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

func (c WorkerPoolConfig) withDefaults() WorkerPoolConfig {
	d := DefaultWorkerPoolConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}

// WorkerPool manages a pool of workers that process queued jobs
type WorkerPool struct {
	queue         *Queue
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	jobsProcessed int       // Jobs finished since Start
	activeWorkers int       // Workers currently executing jobs
	startTime     time.Time // When the pool last started
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool that routes jobs through registry.
// Register handlers before calling Start. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, database *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	return NewWorkerPoolWithQueue(ctx, NewQueue(database), poolCfg, log, registry)
}

// NewWorkerPoolWithQueue creates a worker pool over an existing queue, so producers
// and the pool share subscribers.
func NewWorkerPoolWithQueue(ctx context.Context, queue *Queue, poolCfg WorkerPoolConfig, log *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	if log == nil {
		log = logger.Logger
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	poolCfg = poolCfg.withDefaults()

	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:      queue,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry, nil),
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// Start begins processing jobs with the worker pool
// ✿ Opening: fail jobs orphaned by a previous run before starting workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restart after Stop
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	ctx := wp.ctx
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	} else if n > 0 {
		wp.logger.Starting("Marked orphaned jobs as failed", "count", n)
	}

	if recommended, snap, over := wp.memoryPressure(); over {
		wp.logger.Warnw("Worker count exceeds what available memory supports",
			"workers", wp.workers,
			"recommended", recommended,
			"available_gb", fmt.Sprintf("%.1f", snap.availableGB()),
			"total_gb", fmt.Sprintf("%.1f", snap.totalGB()))
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	if wp.poolConfig.Retention > 0 {
		wp.wg.Add(1)
		go wp.janitor(ctx)
	}

	wp.logger.Starting("Worker pool started", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)
}

// recoverOrphanedJobs marks jobs still "running" from a previous process as failed.
// They are not re-queued: the ticket may already carry the comment, and the
// execution's history record stays pending where the stale listing surfaces it.
func (wp *WorkerPool) recoverOrphanedJobs() (int, error) {
	runningStatus := JobStatusRunning
	orphaned, err := wp.queue.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running jobs")
	}

	recovered := 0
	for _, job := range orphaned {
		if err := wp.queue.FailJob(job.ID, errors.New(OrphanedJobError)); err != nil {
			wp.logger.Warnw("Failed to mark orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		wp.logger.Starting("Orphaned job marked failed",
			"job_id", job.ID,
			"handler", job.HandlerName,
			"source", job.Source,
			"correlation_id", job.CorrelationID,
		)
		recovered++
	}
	return recovered, nil
}

// Stop cancels the workers and waits up to StopTimeout for running jobs to return.
// ❀ Closing: jobs interrupted by the cancellation are marked cancelled.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.StopTimeout
	select {
	case <-done:
		wp.logger.Pulse("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be running", "timeout", timeout)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		processed, err := wp.processNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil || db.IsDatabaseClosed(err) || errors.Is(err, sql.ErrConnDone) {
				// Shutting down
				return
			}

			errorCount++
			wp.logger.Errorw("Worker error processing job",
				"worker_id", id,
				"error", err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					"worker_id", id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
			continue
		}

		if errorCount > 0 {
			wp.logger.Infow("Worker recovered from errors",
				"worker_id", id,
				"previous_error_count", errorCount)
		}
		errorCount = 0
		backoffDuration = time.Second

		// Drain a backlog without waiting for the next tick
		if processed {
			ticker.Reset(time.Millisecond)
		} else {
			ticker.Reset(wp.poolConfig.PollInterval)
		}
	}
}

// processNextJob dequeues one job and runs it. It reports whether a job was found.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.jobsProcessed++
		wp.mu.Unlock()
	}()

	log := wp.logger.With("job_id", job.ID, "handler", job.HandlerName, "source", job.Source)
	log.Debugw(logger.SymPulse + " Job started")

	var finishErr error
	execErr := wp.execute(ctx, job)
	switch {
	case execErr == nil:
		finishErr = wp.queue.CompleteJob(job.ID)
	case ctx.Err() != nil:
		// ❀ Closing: no requeue, a partially run enhancement may already have commented
		log.Warnw(logger.SymClose+" Job interrupted by shutdown, marking cancelled", "error", execErr)
		finishErr = wp.queue.CancelJob(job.ID, ShutdownCancelReason)
	default:
		log.Warnw("Job failed", "error", execErr)
		finishErr = wp.queue.FailJob(job.ID, execErr)
	}

	if errors.Is(finishErr, ErrJobTerminal) {
		// Cancelled while running
		log.Debugw("Job already finished elsewhere", "error", finishErr)
		return true, nil
	}
	return true, finishErr
}

// execute runs the job through the executor, converting a handler panic into an error
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler %s panicked: %v", job.HandlerName, r)
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// janitor periodically deletes finished jobs older than the retention period
func (wp *WorkerPool) janitor(ctx context.Context) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := wp.queue.Cleanup(ctx, wp.poolConfig.Retention)
			if err != nil {
				if ctx.Err() == nil && !db.IsDatabaseClosed(err) {
					wp.logger.Warnw("Job cleanup failed", "error", err)
				}
				continue
			}
			if n > 0 {
				wp.logger.Pulse(fmt.Sprintf("Cleaned up %d finished jobs", n), "retention", wp.poolConfig.Retention)
			}
		}
	}
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// JobsProcessed returns how many jobs finished since the last Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}

// Uptime returns the time since the last Start
func (wp *WorkerPool) Uptime() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.startTime.IsZero() {
		return 0
	}
	return time.Since(wp.startTime)
}

// Registry returns the handler registry for registering job handlers.
// Use this to register handlers before calling Start():
//
//	pool := async.NewWorkerPool(ctx, database, poolCfg, log, nil)
//	pool.Registry().Register(task)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if registryExec, ok := wp.executor.(*RegistryExecutor); ok {
		return registryExec.registry
	}
	return nil
}
