package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/ticketpulse/ai/openrouter"
	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/internal/httpclient"
)

// LocalProvider talks to a local inference server through its
// OpenAI-compatible endpoint (Ollama, LocalAI, llama.cpp server)
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *httpclient.SaferClient
	config     am.LocalInferenceConfig
}

// NewLocalProvider creates a provider for local inference
func NewLocalProvider(cfg am.LocalInferenceConfig) *LocalProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		// Local servers live on loopback or the LAN by definition
		httpClient: httpclient.NewWithOptions(timeout, httpclient.Options{AllowPrivateNetworks: true}),
		config:     cfg,
	}
}

// ChatCompletionRequest matches the OpenAI API format (Ollama is compatible)
type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []ChatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *CompletionOpts `json:"options,omitempty"` // Ollama-specific options
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionOpts struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"num_predict,omitempty"` // Ollama uses num_predict
	NumCtx      int     `json:"num_ctx,omitempty"`     // Context window size (Ollama default: 4096)
}

// ChatCompletionResponse matches the OpenAI API format
type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *openrouter.Usage `json:"usage,omitempty"`
}

// Chat implements AIClient
func (lp *LocalProvider) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	opts := &CompletionOpts{
		Temperature: 0.3,
		MaxTokens:   1024,
		NumCtx:      lp.config.ContextSize,
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}

	var messages []ChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.UserPrompt})

	jsonData, err := json.Marshal(ChatCompletionRequest{
		Model:    lp.model,
		Messages: messages,
		Options:  opts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, lp.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "local inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &openrouter.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var completion ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode local inference response")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	out := &openrouter.ChatResponse{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   lp.model,
	}
	// Ollama omits usage unless asked; cost is always zero locally
	if completion.Usage != nil {
		out.Usage = *completion.Usage
	}
	return out, nil
}

// GetModelName returns the configured local model name
func (lp *LocalProvider) GetModelName() string {
	return lp.model
}
