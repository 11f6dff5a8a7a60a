package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teranos/ticketpulse/ai/openrouter"
	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
)

func TestLocalProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if req.Model != "llama3.2:3b" || req.Stream {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Options == nil || req.Options.NumCtx != 8192 || req.Options.MaxTokens != 256 {
			t.Errorf("unexpected options %+v", req.Options)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user, got %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2:3b","choices":[{"message":{"role":"assistant","content":" Reinstall the VPN client. "},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	}))
	defer server.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{
		BaseURL:        server.URL + "/",
		Model:          "llama3.2:3b",
		TimeoutSeconds: 5,
		ContextSize:    8192,
	})

	maxTokens := 256
	resp, err := lp.Chat(context.Background(), openrouter.ChatRequest{
		SystemPrompt: "You assist support agents",
		UserPrompt:   "VPN drops",
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Reinstall the VPN client." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 || resp.Cost != 0 {
		t.Errorf("unexpected usage %+v cost %f", resp.Usage, resp.Cost)
	}
}

func TestLocalProvider_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{BaseURL: server.URL, Model: "missing"})
	_, err := lp.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"})
	var statusErr *openrouter.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()

	lp = NewLocalProvider(am.LocalInferenceConfig{BaseURL: empty.URL})
	if _, err := lp.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestLocalProvider_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{BaseURL: server.URL, TimeoutSeconds: 30})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := lp.Chat(ctx, openrouter.ChatRequest{UserPrompt: "hi"}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took too long: %s", elapsed)
	}
}
