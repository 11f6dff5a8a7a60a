// Package provider selects the model backend used for synthesis: a local
// OpenAI-compatible server or OpenRouter.
package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/ai/openrouter"
	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses OpenRouter.ai API
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAuto selects based on configuration
	ProviderAuto Provider = "auto"
)

// AIClient is implemented by every provider
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

var (
	_ AIClient = (*openrouter.Client)(nil)
	_ AIClient = (*LocalProvider)(nil)
)

// NewAIClient creates an AI client for the configured provider.
// Priority: local inference (if enabled with a base URL), then OpenRouter.
func NewAIClient(cfg *am.Config, log *zap.SugaredLogger) AIClient {
	return NewAIClientWithProvider(cfg, ProviderAuto, log)
}

// NewAIClientWithProvider creates an AI client for a specific provider.
// ProviderAuto lets the configuration decide.
func NewAIClientWithProvider(cfg *am.Config, provider Provider, log *zap.SugaredLogger) AIClient {
	if provider == ProviderAuto || provider == "" {
		provider = DetermineProvider(cfg, "")
	}
	if provider == ProviderLocal {
		return NewLocalProvider(cfg.LocalInference)
	}
	return openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.OpenRouter.APIKey,
		Model:       cfg.OpenRouter.Model,
		Temperature: cfg.OpenRouter.Temperature,
		MaxTokens:   cfg.OpenRouter.MaxTokens,
		Logger:      log,
	})
}

// DetermineProvider resolves which provider to use. An explicit, parseable choice
// wins; otherwise local inference is used when enabled and configured.
func DetermineProvider(cfg *am.Config, explicit string) Provider {
	if p, err := ParseProvider(explicit); err == nil && p != ProviderAuto {
		return p
	}
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		return ProviderLocal
	}
	return ProviderOpenRouter
}

// GetAvailableProviders returns the providers that are configured
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		providers = append(providers, ProviderLocal)
	}
	if cfg.OpenRouter.APIKey != "" {
		providers = append(providers, ProviderOpenRouter)
	}
	return providers
}

// ParseProvider converts a string to a Provider
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.Newf("unknown provider: %s (valid: local, openrouter, auto)", s)
	}
}
