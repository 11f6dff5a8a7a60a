package enhance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse"
)

// Deps are the pipeline collaborators. Synthesizer may be nil, in which case every
// execution uses the fallback rendering.
type Deps struct {
	Gatherer    ContextGatherer
	Synthesizer Synthesizer
	Updater     TicketUpdater
	History     HistoryRecorder
}

// Pipeline sequences the phases of one execution and drives its history record
type Pipeline struct {
	cfg      Config
	gatherer ContextGatherer
	synth    Synthesizer
	updater  TicketUpdater
	history  HistoryRecorder
	logger   *zap.SugaredLogger
}

// NewPipeline creates a pipeline. A zero ContextTimeout means DefaultContextTimeout.
func NewPipeline(cfg Config, deps Deps, log *zap.SugaredLogger) (*Pipeline, error) {
	if deps.Gatherer == nil || deps.Updater == nil || deps.History == nil {
		return nil, errors.New("pipeline requires a gatherer, an updater and a history recorder")
	}
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = DefaultContextTimeout
	}
	if log == nil {
		log = logger.Logger
	}

	return &Pipeline{
		cfg:      cfg,
		gatherer: deps.Gatherer,
		synth:    deps.Synthesizer,
		updater:  deps.Updater,
		history:  deps.History,
		logger:   log.Named("enhance"),
	}, nil
}

// Run executes one enhancement. The correlation ID is taken from ctx when present,
// otherwise generated here.
func (p *Pipeline) Run(ctx context.Context, ev Event) (*Outcome, error) {
	return p.RunWithProgress(ctx, ev, nil)
}

// RunWithProgress is Run with phase transitions reported to progress (may be nil)
func (p *Pipeline) RunWithProgress(ctx context.Context, ev Event, progress pulse.ProgressEmitter) (*Outcome, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	id, ok := correlation.From(ctx)
	if !ok {
		id = correlation.New()
		ctx = correlation.With(ctx, id)
	}
	ctx = logger.WithTicket(ctx, ev.TenantID, ev.TicketID)
	if ev.JobID != "" {
		ctx = logger.WithJobID(ctx, ev.JobID)
	}
	log := logger.FromContext(ctx, p.logger)
	emit := stageEmitter{progress}

	out := &Outcome{CorrelationID: id, State: StateInit}
	start := time.Now()

	// INIT: nothing external may happen before the record exists
	rec, err := p.history.OpenWithID(ctx, id, ev.TenantID, ev.TicketID, ev.JobID)
	if err != nil {
		out.State = StateFailed
		log.Errorw("Could not open execution record, aborting", logger.FieldError, err)
		return out, errors.Mark(errors.Wrap(err, "open execution record"), ErrHistoryOpen)
	}
	out.Record = rec

	// CONTEXT
	if err := p.transition(ctx, out, StateContext, emit); err != nil {
		return out, err
	}
	cr := p.gatherContext(ctx, ev, id)
	if cr.Err != nil {
		log.Warnw(logger.SymDegrade+" Context gathering degraded, continuing with partial bundle",
			logger.FieldPhase, StateContext,
			logger.FieldTimeout, cr.TimedOut,
			logger.FieldError, cr.Err,
		)
		emit.fail(string(StateContext), cr.Err)
	}
	out.ContextSuccess = cr.Bundle.SuccessCount()
	out.ContextFailure = cr.Bundle.FailureCount()

	// SYNTHESIZE
	if err := p.transition(ctx, out, StateSynthesize, emit); err != nil {
		return out, err
	}
	sr := p.synthesize(ctx, cr.Bundle, id)
	if sr.Err != nil {
		log.Warnw(logger.SymDegrade+" Synthesis unavailable, using fallback formatter",
			logger.FieldPhase, StateSynthesize,
			logger.FieldError, sr.Err,
		)
		emit.fail(string(StateSynthesize), sr.Err)
	}
	out.Text = sr.Text
	out.Source = sr.Source

	// UPDATE
	if err := p.transition(ctx, out, StateUpdate, emit); err != nil {
		return out, err
	}
	ur := p.updateTicket(ctx, ev, sr.Text, id)
	if err := p.abandonedIn(ctx, StateUpdate); err != nil {
		log.Warnw("Execution abandoned during ticket update, record left pending", logger.FieldError, err)
		return out, err
	}
	out.Elapsed = time.Since(start)

	if !ur.OK() {
		out.State = StateFailed
		msg := ur.FailureMessage()
		log.Errorw("Ticket update failed", logger.FieldPhase, StateUpdate, logger.FieldError, msg)
		emit.fail(string(StateUpdate), errors.New(msg))

		updateErr := errors.Mark(errors.Wrap(errors.New(msg), "post comment"), ErrUpdateFailed)
		if ur.Err != nil {
			updateErr = errors.Mark(errors.Wrap(ur.Err, "post comment"), ErrUpdateFailed)
		}
		md := history.Metadata{ContextSuccess: out.ContextSuccess, ContextFailure: out.ContextFailure}
		if err := p.history.Fail(ctx, rec, msg, md); err != nil {
			log.Errorw("Could not record failed execution", logger.FieldError, err)
			return out, errors.WithSecondaryError(updateErr, err)
		}
		return out, updateErr
	}

	// DONE
	md := history.Metadata{
		ContextSuccess: out.ContextSuccess,
		ContextFailure: out.ContextFailure,
		Source:         sr.Source,
	}
	out.State = StateDone
	if err := p.history.Complete(ctx, rec, out.Elapsed.Milliseconds(), md); err != nil {
		// The comment is posted; only the audit trail is missing
		log.Errorw("Comment posted but execution record not completed", logger.FieldError, err)
		return out, errors.Mark(errors.Wrap(err, "complete execution record"), ErrHistoryWrite)
	}
	emit.stage(string(StateDone), "enhancement posted ("+string(sr.Source)+")")

	log.Infow(logger.SymClose+" Enhancement posted",
		logger.FieldState, out.State,
		logger.FieldSource, out.Source,
		logger.FieldDurationMS, out.Elapsed.Milliseconds(),
		"context_success", out.ContextSuccess,
		"context_failure", out.ContextFailure,
	)
	return out, nil
}

// transition moves out to next unless the execution context has ended
func (p *Pipeline) transition(ctx context.Context, out *Outcome, next State, emit stageEmitter) error {
	if err := p.abandonedIn(ctx, out.State); err != nil {
		logger.FromContext(ctx, p.logger).Warnw("Execution abandoned, record left pending",
			logger.FieldPhase, out.State,
			logger.FieldError, err,
		)
		return err
	}
	out.State = next
	emit.stage(string(next), "")
	return nil
}

func (p *Pipeline) abandonedIn(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "abandoned in %s", state), ErrAbandoned)
	}
	return nil
}

// stageEmitter forwards to an optional progress emitter
type stageEmitter struct {
	pulse.ProgressEmitter
}

func (e stageEmitter) stage(stage, message string) {
	if e.ProgressEmitter != nil {
		e.EmitStage(stage, message)
	}
}

func (e stageEmitter) fail(stage string, err error) {
	if e.ProgressEmitter != nil {
		e.EmitError(stage, err)
	}
}
