// Package openrouter is the OpenRouter.ai chat completions client used for synthesis.
package openrouter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/internal/httpclient"
)

const (
	// DefaultModel matches openrouter.model in am's defaults.
	DefaultModel = "openai/gpt-4o-mini"

	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultTemperature = 0.2
	defaultMaxTokens   = 1000
	defaultTimeout     = 120 * time.Second

	maxAttempts = 3
)

// retryInterval is the first backoff step; later steps grow from it.
var retryInterval = 500 * time.Millisecond

// Config holds client settings. Nil pointers and zero values take the defaults above.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   *int
	BaseURL     string
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
}

// Client talks to OpenRouter through the SSRF-guarded HTTP client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
}

func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		t := defaultTemperature
		config.Temperature = &t
	}
	if config.MaxTokens == nil {
		n := defaultMaxTokens
		config.MaxTokens = &n
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: httpclient.New(config.Timeout),
		config:     config,
		logger:     config.Logger,
	}
}

// ChatRequest is a single-turn prompt. The pointer fields override the client's
// defaults for this call only.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64
	MaxTokens    *int
	Model        *string
}

// ChatResponse carries the trimmed reply and what it cost.
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
	Cost    float64 // estimated USD, see CalculateCost
}

func (c *Client) completionRequest(req ChatRequest) ChatCompletionRequest {
	out := ChatCompletionRequest{
		Model:       c.config.Model,
		Temperature: *c.config.Temperature,
		MaxTokens:   *c.config.MaxTokens,
	}
	if req.Model != nil {
		out.Model = *req.Model
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	out.Messages = append(out.Messages, Message{Role: "user", Content: req.UserPrompt})
	return out
}

// Chat sends req, retrying network failures and 429/5xx answers with exponential
// backoff for up to maxAttempts tries. Cancelling ctx ends the wait immediately.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, errors.New("OpenRouter API key not configured")
	}

	completion := c.completionRequest(req)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	resp, err := backoff.RetryNotifyWithData(func() (*ChatCompletionResponse, error) {
		attempt++
		resp, err := c.CreateChatCompletion(ctx, completion)
		if err != nil && (ctx.Err() != nil || !isRetryableError(err)) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx),
		func(err error, wait time.Duration) {
			c.logger.Warnw("OpenRouter request failed, retrying",
				"attempt", attempt, "wait", wait, "model", completion.Model, "error", err)
		})
	if err != nil {
		return nil, errors.Wrapf(err, "OpenRouter API error after %d attempt(s)", attempt)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenRouter")
	}

	cost := CalculateCost(completion.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.logger.Debugw("OpenRouter response",
		"model", completion.Model,
		"attempts", attempt,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"cost_usd", cost,
	)

	return &ChatResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   completion.Model,
		Usage:   resp.Usage,
		Cost:    cost,
	}, nil
}

var transientMessages = []string{
	"connection reset by peer",
	"connection refused",
	"temporary failure",
	"network is unreachable",
	"i/o timeout",
}

// isRetryableError decides whether another attempt could succeed
func isRetryableError(err error) bool {
	if statusErr := (*StatusError)(nil); errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if netErr := net.Error(nil); errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.IsAny(err, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client. Tests only: it drops SSRF protection.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
