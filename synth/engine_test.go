package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/ai/openrouter"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
)

type stubClient struct {
	resp *openrouter.ChatResponse
	err  error
	got  openrouter.ChatRequest
}

func (s *stubClient) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	s.got = req
	return s.resp, s.err
}

func score(f float64) *float64 { return &f }

func vpnBundle() *enhance.Bundle {
	b := enhance.NewBundle()
	b.Add(enhance.SourceSimilarTickets, enhance.Item{
		ID: "T-1", Title: "VPN drops after sleep", Score: score(0.75),
		Summary: "Disable NIC\npower saving", URL: "https://sd.example.com/T-1",
	})
	b.Add(enhance.SourceKBArticles, enhance.Item{ID: "KB-7", Title: "Laptop sleep settings"})
	b.AddError(enhance.SourceDiagnostics, errors.New("connection refused"))
	return b
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(vpnBundle())

	assert.Contains(t, system, "service desk")
	assert.Contains(t, user, "### similar_tickets\n- [T-1] VPN drops after sleep (relevance 0.75) <https://sd.example.com/T-1>\n  Disable NIC power saving\n")
	assert.Contains(t, user, "### kb_articles\n- [KB-7] Laptop sleep settings\n")
	assert.Contains(t, user, "Unavailable sources:\n- diagnostics: connection refused\n")
	assert.Less(t, strings.Index(user, "similar_tickets"), strings.Index(user, "kb_articles"))
}

func TestBuildPrompt_EmptyAndCapped(t *testing.T) {
	_, user := BuildPrompt(enhance.NewBundle())
	assert.Contains(t, user, "no related context")

	b := enhance.NewBundle()
	for i := 0; i < MaxPromptItems+3; i++ {
		b.Add(enhance.SourceKBArticles, enhance.Item{ID: "KB", Title: "article"})
	}
	_, user = BuildPrompt(b)
	assert.Contains(t, user, "(3 more omitted)")
}

func TestEngine_Synthesize(t *testing.T) {
	client := &stubClient{resp: &openrouter.ChatResponse{Content: "  Likely NIC power saving. Try disabling it.\n", Model: "m"}}
	engine := New(client, zap.NewNop().Sugar())

	text, err := engine.Synthesize(context.Background(), vpnBundle(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "Likely NIC power saving. Try disabling it.", text)
	assert.Contains(t, client.got.UserPrompt, "T-1")
	assert.NotEmpty(t, client.got.SystemPrompt)
}

func TestEngine_ErrorKinds(t *testing.T) {
	t.Run("blank answer is a validation error", func(t *testing.T) {
		engine := New(&stubClient{resp: &openrouter.ChatResponse{Content: " \n"}}, nil)
		_, err := engine.Synthesize(context.Background(), vpnBundle(), "c")

		var serr *SynthesisError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, KindValidation, serr.Kind)
	})

	t.Run("status answer is a provider error", func(t *testing.T) {
		engine := New(&stubClient{err: errors.Wrap(&openrouter.StatusError{StatusCode: 401, Body: "bad key"}, "OpenRouter API error")}, nil)
		_, err := engine.Synthesize(context.Background(), vpnBundle(), "c")

		var serr *SynthesisError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, KindProvider, serr.Kind)
		assert.Contains(t, err.Error(), "status 401")
	})

	t.Run("deadline is a network error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		engine := New(&stubClient{err: errors.Wrap(context.Canceled, "failed to send request")}, nil)
		_, err := engine.Synthesize(ctx, vpnBundle(), "c")

		var serr *SynthesisError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, KindNetwork, serr.Kind)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestEngine_OverOpenRouter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openrouter.ChatCompletionRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) && assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[1].Content, "KB-7")
		}

		_ = json.NewEncoder(w).Encode(openrouter.ChatCompletionResponse{
			Choices: []openrouter.Choice{{Message: openrouter.Message{Role: "assistant", Content: "See KB-7."}}},
			Usage:   openrouter.Usage{PromptTokens: 300, CompletionTokens: 20, TotalTokens: 320},
		})
	}))
	defer server.Close()

	client := openrouter.NewClient(openrouter.Config{APIKey: "k", BaseURL: server.URL})
	client.SetHTTPClient(server.Client())

	text, err := New(client, nil).Synthesize(context.Background(), vpnBundle(), "corr-2")
	require.NoError(t, err)
	assert.Equal(t, "See KB-7.", text)
}

func TestEngine_UnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := openrouter.NewClient(openrouter.Config{APIKey: "k", BaseURL: url})
	client.SetHTTPClient(http.DefaultClient)

	_, err := New(client, nil).Synthesize(context.Background(), vpnBundle(), "corr-3")
	var serr *SynthesisError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, KindNetwork, serr.Kind)
}
