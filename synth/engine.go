// Package synth turns a context bundle into an enhancement note using a language model.
package synth

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/ai/openrouter"
	"github.com/teranos/ticketpulse/ai/provider"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

// Kind classifies a synthesis failure
type Kind string

const (
	KindProvider   Kind = "provider"   // The model backend answered with an error
	KindNetwork    Kind = "network"    // The backend could not be reached in time
	KindValidation Kind = "validation" // The answer was unusable
)

// SynthesisError is returned by Engine.Synthesize
type SynthesisError struct {
	Kind Kind
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis %s error: %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Engine implements enhance.Synthesizer over an AI client
type Engine struct {
	client provider.AIClient
	logger *zap.SugaredLogger
}

var _ enhance.Synthesizer = (*Engine)(nil)

// New creates an engine
func New(client provider.AIClient, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = logger.Logger
	}
	return &Engine{client: client, logger: log.Named("synth")}
}

// Synthesize implements enhance.Synthesizer
func (e *Engine) Synthesize(ctx context.Context, bundle *enhance.Bundle, correlationID string) (string, error) {
	system, user := BuildPrompt(bundle)
	log := e.logger.With(logger.FieldCorrelationID, correlationID)

	start := time.Now()
	resp, err := e.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: system,
		UserPrompt:   user,
	})
	if err != nil {
		serr := &SynthesisError{Kind: classify(ctx, err), Err: err}
		log.Warnw(logger.SymDegrade+" Synthesis failed",
			"kind", serr.Kind,
			logger.FieldError, err,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
		return "", serr
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &SynthesisError{Kind: KindValidation, Err: errors.New("model returned empty text")}
	}

	log.Infow("Synthesis complete",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"cost_usd", resp.Cost,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return text, nil
}

func classify(ctx context.Context, err error) Kind {
	var statusErr *openrouter.StatusError
	if errors.As(err, &statusErr) {
		return KindProvider
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindProvider
}
