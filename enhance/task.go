package enhance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse"
	"github.com/teranos/ticketpulse/pulse/async"
)

// HandlerName routes ticket enhancement jobs to Task
const HandlerName = "ticket.enhance"

// Default wall-clock limits of one execution
const (
	DefaultSoftLimit = 4 * time.Minute
	DefaultHardLimit = 5 * time.Minute
)

// ErrHardLimit means the execution was abandoned at the hard limit. Its history record,
// if already opened, stays pending for manual reconciliation. Errors carrying it also
// match ErrAbandoned.
var ErrHardLimit = errors.New("enhancement exceeded hard time limit")

// Limits are the two timeout tiers of the task entry point
type Limits struct {
	Soft time.Duration // Logged and signalled; the execution keeps running
	Hard time.Duration // The execution is abandoned
}

func (l Limits) withDefaults() Limits {
	if l.Hard <= 0 {
		l.Hard = DefaultHardLimit
	}
	if l.Soft <= 0 || l.Soft >= l.Hard {
		l.Soft = min(DefaultSoftLimit, l.Hard*4/5)
	}
	return l
}

// progressStages are the pipeline states reported as job progress, in order
var progressStages = []string{
	string(StateContext),
	string(StateSynthesize),
	string(StateUpdate),
	string(StateDone),
}

type runner interface {
	RunWithProgress(ctx context.Context, ev Event, progress pulse.ProgressEmitter) (*Outcome, error)
}

// Task is the entry point for one ticket event. It owns the soft and hard limits and
// waits for the pipeline to finish (or be abandoned) before returning.
// It implements async.JobHandler for the ticket.enhance handler name.
type Task struct {
	pipeline runner
	limits   Limits
	queue    *async.Queue // Optional: persists job progress when set
	logger   *zap.SugaredLogger
}

// NewTask creates the entry point around pipeline. queue may be nil outside the worker pool.
func NewTask(pipeline *Pipeline, limits Limits, queue *async.Queue, log *zap.SugaredLogger) *Task {
	if log == nil {
		log = logger.Logger
	}
	return &Task{
		pipeline: pipeline,
		limits:   limits.withDefaults(),
		queue:    queue,
		logger:   log.Named("task"),
	}
}

// Name implements async.JobHandler
func (t *Task) Name() string {
	return HandlerName
}

// Execute implements async.JobHandler: it decodes the event from the job payload and runs it
func (t *Task) Execute(ctx context.Context, job *async.Job) error {
	var ev Event
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		err = errors.Wrap(err, "invalid ticket.enhance payload")
		return errors.WithDetail(err, "Job ID: "+job.ID)
	}
	ev.JobID = job.ID

	id := correlation.New()
	job.CorrelationID = id.String()

	var progress pulse.ProgressEmitter
	if t.queue != nil {
		if err := t.queue.UpdateJob(job); err != nil {
			t.logger.Warnw("Failed to persist job correlation ID", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
		progress = async.NewJobProgressEmitter(job, t.queue, t.logger, progressStages...)
	}

	_, err := t.run(correlation.With(ctx, id), ev, progress)
	return err
}

// Run executes ev synchronously under a fresh correlation ID
func (t *Task) Run(ctx context.Context, ev Event) (*Outcome, error) {
	return t.run(correlation.With(ctx, correlation.New()), ev, nil)
}

type runReply struct {
	out *Outcome
	err error
}

func (t *Task) run(ctx context.Context, ev Event, progress pulse.ProgressEmitter) (*Outcome, error) {
	log := logger.FromContext(logger.WithTicket(ctx, ev.TenantID, ev.TicketID), t.logger)

	hardCtx, cancel := context.WithTimeout(ctx, t.limits.Hard)
	defer cancel()

	runCtx, stopSoft := withSoftDeadline(hardCtx, t.limits.Soft, func() {
		log.Warnw("Soft time limit exceeded, execution continues until hard limit",
			"soft_limit", t.limits.Soft,
			"hard_limit", t.limits.Hard,
		)
	})
	defer stopSoft()

	replies := make(chan runReply, 1)
	go func() {
		out, err := t.pipeline.RunWithProgress(runCtx, ev, progress)
		replies <- runReply{out, err}
	}()

	var r runReply
	select {
	case r = <-replies:
	case <-hardCtx.Done():
		// A pipeline finishing right at the deadline still counts
		select {
		case r = <-replies:
		default:
			return nil, t.abandon(ctx, log)
		}
	}

	// The pipeline noticed the deadline itself and stopped cooperatively
	if errors.Is(r.err, ErrAbandoned) && hardCtx.Err() != nil {
		return r.out, t.abandon(ctx, log)
	}
	return r.out, r.err
}

// abandon reports why an execution stopped before a terminal history write
func (t *Task) abandon(ctx context.Context, log *zap.SugaredLogger) error {
	if ctx.Err() != nil {
		log.Warnw("Execution cancelled before completion, record left pending", logger.FieldError, ctx.Err())
		return errors.Mark(errors.Wrap(ctx.Err(), "enhancement cancelled"), ErrAbandoned)
	}
	log.Errorw("Hard time limit exceeded, abandoning execution, record left pending", "hard_limit", t.limits.Hard)
	return errors.Mark(errors.Wrapf(ErrHardLimit, "after %s", t.limits.Hard), ErrAbandoned)
}

type softDeadlineKey struct{}

type softDeadline struct {
	once sync.Once
	done chan struct{}
}

// withSoftDeadline returns a context that reports SoftDeadlineExceeded after d.
// onExpire runs once when the deadline passes. The returned stop releases the timer.
func withSoftDeadline(ctx context.Context, d time.Duration, onExpire func()) (context.Context, func()) {
	sd := &softDeadline{done: make(chan struct{})}
	timer := time.AfterFunc(d, func() {
		sd.once.Do(func() { close(sd.done) })
		if onExpire != nil {
			onExpire()
		}
	})
	return context.WithValue(ctx, softDeadlineKey{}, sd), func() { timer.Stop() }
}

// SoftDeadlineExceeded reports whether the soft limit of the enclosing task has passed.
// Long-running phases check it to wind down cooperatively.
func SoftDeadlineExceeded(ctx context.Context) bool {
	sd, ok := ctx.Value(softDeadlineKey{}).(*softDeadline)
	if !ok {
		return false
	}
	select {
	case <-sd.done:
		return true
	default:
		return false
	}
}

// SoftDeadline returns a channel closed when the soft limit passes, or nil outside a task
func SoftDeadline(ctx context.Context) <-chan struct{} {
	if sd, ok := ctx.Value(softDeadlineKey{}).(*softDeadline); ok {
		return sd.done
	}
	return nil
}
