package async

import (
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/errors"
)

// JobProgressEmitter implements pulse.ProgressEmitter for async job progress updates.
// Stages are numbered by their position in the list given at construction; a stage
// outside the list keeps the current count and only updates the stage name.
type JobProgressEmitter struct {
	job    *Job
	queue  *Queue
	stages map[string]int
	log    *zap.SugaredLogger // Context-aware logger with job_id pre-configured
}

// NewJobProgressEmitter creates a new progress emitter for an async job.
// stages lists the handler's stages in order; their count becomes Progress.Total.
func NewJobProgressEmitter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger, stages ...string) *JobProgressEmitter {
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		index[s] = i + 1
	}
	if len(stages) > 0 {
		job.Progress.Total = len(stages)
	}

	return &JobProgressEmitter{
		job:    job,
		queue:  queue,
		stages: index,
		log:    baseLogger.With("job_id", job.ID),
	}
}

// EmitStage records the stage transition on the job and persists it.
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	current := e.job.Progress.Current
	if n, ok := e.stages[stage]; ok {
		current = n
	}
	e.job.UpdateProgress(current, stage)

	if message != "" {
		e.log.Debugw(message, "stage", stage)
	}

	err := e.queue.UpdateJob(e.job)
	switch {
	case errors.Is(err, ErrJobTerminal):
		e.log.Debugw("Job finished elsewhere, stage not persisted", "stage", stage, "error", err)
	case err != nil:
		e.log.Warnw("Failed to update job for stage",
			"stage", stage,
			"error", err,
		)
	}
}

// EmitError logs a classified error. Errors reported here are not necessarily fatal
// to the job; the worker records the final outcome from the handler's return value.
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ctx := ClassifyError(stage, err)

	e.log.Warnw("Job stage error",
		"stage", stage,
		"error_code", ctx.Code,
		"error", err,
		"recoverable", ctx.Recoverable,
	)
}

// EmitInfo logs informational messages.
func (e *JobProgressEmitter) EmitInfo(message string) {
	e.log.Info(message)
}
