package enhance

import (
	"context"
	"strings"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
)

// ContextResult is the outcome of the CONTEXT phase. Bundle is never nil.
type ContextResult struct {
	Bundle   *Bundle
	Err      error // Non-nil when the phase degraded
	TimedOut bool
}

// SynthesisResult is the outcome of the SYNTHESIZE phase. Text is never empty.
type SynthesisResult struct {
	Text   string
	Source history.Source
	Err    error // Why synthesis was not used, when Source is fallback
}

// UpdateResult is the outcome of the UPDATE phase
type UpdateResult struct {
	Posted bool
	Err    error
}

// OK reports whether the comment was posted
func (r UpdateResult) OK() bool {
	return r.Err == nil && r.Posted
}

// FailureMessage is the text recorded on the failed execution record
func (r UpdateResult) FailureMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return UpdateRejectedMessage
}

var errSynthesisSkipped = errors.New("synthesis skipped: soft time limit exceeded")

type gatherReply struct {
	bundle *Bundle
	err    error
}

// gatherContext runs the gatherer under its own timeout. A gatherer that ignores its
// context is abandoned when the timeout fires; a reply that races the deadline is
// discarded as a timeout.
func (p *Pipeline) gatherContext(ctx context.Context, ev Event, id correlation.ID) ContextResult {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ContextTimeout)
	defer cancel()

	req := GatherRequest{
		TenantID:      ev.TenantID,
		TicketID:      ev.TicketID,
		Description:   ev.Description,
		CorrelationID: id,
		Timeout:       p.cfg.ContextTimeout,
	}

	replies := make(chan gatherReply, 1)
	go func() {
		var reply gatherReply
		defer func() {
			if r := recover(); r != nil {
				reply = gatherReply{err: errors.Newf("context gatherer panicked: %v", r)}
			}
			replies <- reply
		}()
		reply.bundle, reply.err = p.gatherer.Gather(cctx, req)
	}()

	var reply gatherReply
	select {
	case reply = <-replies:
	case <-cctx.Done():
	}

	if cctx.Err() != nil {
		bundle := NewBundle()
		err := errors.Wrapf(cctx.Err(), "context gathering timed out after %s", p.cfg.ContextTimeout)
		bundle.AddError(SourceContextGathering, err)
		return ContextResult{Bundle: bundle, Err: err, TimedOut: true}
	}

	bundle := reply.bundle
	if bundle == nil {
		bundle = NewBundle()
	}
	if reply.err != nil {
		bundle.AddError(SourceContextGathering, reply.err)
		return ContextResult{Bundle: bundle, Err: reply.err}
	}
	return ContextResult{Bundle: bundle}
}

// synthesize asks the synthesizer for text, falling back to FormatFallback on any error,
// panic or blank answer.
func (p *Pipeline) synthesize(ctx context.Context, bundle *Bundle, id correlation.ID) (result SynthesisResult) {
	fallback := func(err error) SynthesisResult {
		return SynthesisResult{Text: FormatFallback(bundle), Source: history.SourceFallback, Err: err}
	}

	if p.synth == nil {
		return fallback(errors.New("no synthesizer configured"))
	}
	if SoftDeadlineExceeded(ctx) {
		return fallback(errSynthesisSkipped)
	}

	defer func() {
		if r := recover(); r != nil {
			result = fallback(errors.Newf("synthesizer panicked: %v", r))
		}
	}()

	text, err := p.synth.Synthesize(ctx, bundle, id.String())
	if err != nil {
		return fallback(err)
	}
	if strings.TrimSpace(text) == "" {
		return fallback(errors.New("synthesis returned empty text"))
	}
	return SynthesisResult{Text: text, Source: history.SourceSynthesis}
}

// updateTicket posts text to the tenant's ticketing system
func (p *Pipeline) updateTicket(ctx context.Context, ev Event, text string, id correlation.ID) UpdateResult {
	ep := p.cfg.EndpointFor(ev.TenantID)
	if ep.BaseURL == "" {
		return UpdateResult{Err: errors.Newf("no ServiceDesk endpoint configured for tenant %s", ev.TenantID)}
	}

	posted, err := p.updater.PostComment(ctx, CommentRequest{
		BaseURL:       ep.BaseURL,
		APIKey:        ep.APIKey,
		TicketID:      ev.TicketID,
		Text:          text,
		CorrelationID: id,
	})
	return UpdateResult{Posted: posted, Err: err}
}
