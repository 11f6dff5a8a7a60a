package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/internal/httpclient"
	tptest "github.com/teranos/ticketpulse/internal/testing"
)

// stubSource answers with fixed items or an error
type stubSource struct {
	name  string
	items []enhance.Item
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, q Query) ([]enhance.Item, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.items, s.err
}

type panicSource struct{}

func (panicSource) Name() string { return "haunted" }

func (panicSource) Fetch(context.Context, Query) ([]enhance.Item, error) {
	panic("boo")
}

func request() enhance.GatherRequest {
	return enhance.GatherRequest{TenantID: "acme", TicketID: "T-100", Description: "VPN drops after laptop sleep"}
}

func TestGatherer_MergesSources(t *testing.T) {
	tickets := &stubSource{name: enhance.SourceSimilarTickets, items: []enhance.Item{{ID: "T-1"}, {ID: "T-2"}}}
	articles := &stubSource{name: enhance.SourceKBArticles, items: []enhance.Item{{ID: "KB-1"}}}
	empty := &stubSource{name: enhance.SourceDiagnostics}

	g := New(zap.NewNop().Sugar(), tickets, articles, empty)
	bundle, err := g.Gather(context.Background(), request())
	require.NoError(t, err)

	assert.Len(t, bundle.Sources[enhance.SourceSimilarTickets], 2)
	assert.Len(t, bundle.Sources[enhance.SourceKBArticles], 1)
	assert.Equal(t, 2, bundle.SuccessCount(), "empty sources do not count")
	assert.Equal(t, 0, bundle.FailureCount())
	assert.Equal(t, []string{enhance.SourceSimilarTickets, enhance.SourceKBArticles, enhance.SourceDiagnostics}, g.Sources())
}

func TestGatherer_FailingSourcesAreAnnotated(t *testing.T) {
	ok := &stubSource{name: enhance.SourceSimilarTickets, items: []enhance.Item{{ID: "T-1"}}}
	broken := &stubSource{name: enhance.SourceDiagnostics, err: errors.New("connection refused")}

	g := New(zap.NewNop().Sugar(), broken, ok, panicSource{})
	bundle, err := g.Gather(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, 1, bundle.SuccessCount())
	require.Len(t, bundle.Errors, 2)
	assert.Equal(t, enhance.SourceDiagnostics, bundle.Errors[0].Source, "errors follow registration order")
	assert.Equal(t, "connection refused", bundle.Errors[0].Message)
	assert.Equal(t, "haunted", bundle.Errors[1].Source)
	assert.Contains(t, bundle.Errors[1].Message, "panicked")
}

func TestGatherer_LogsDegradedGather(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ok := &stubSource{name: enhance.SourceSimilarTickets, items: []enhance.Item{{ID: "T-1"}}}
	broken := &stubSource{name: enhance.SourceDiagnostics, err: errors.New("connection refused")}

	_, err := New(zap.New(core).Sugar(), ok).Gather(context.Background(), request())
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessageSnippet("degraded").Len(), "clean gather logs no summary")

	_, err = New(zap.New(core).Sugar(), ok, broken).Gather(context.Background(), request())
	require.NoError(t, err)
	degraded := logs.FilterMessageSnippet("degraded").All()
	require.Len(t, degraded, 1)
	fields := degraded[0].ContextMap()
	assert.EqualValues(t, 1, fields["failed_sources"])
	assert.Contains(t, fields["error"], "source "+enhance.SourceDiagnostics)
}

func TestGatherer_SourcesRunConcurrently(t *testing.T) {
	var sources []Source
	for _, name := range []string{"a", "b", "c", "d"} {
		sources = append(sources, &stubSource{name: name, items: []enhance.Item{{ID: name}}, delay: 100 * time.Millisecond})
	}
	g := New(zap.NewNop().Sugar(), sources...)

	start := time.Now()
	bundle, err := g.Gather(context.Background(), request())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.Equal(t, 4, bundle.SuccessCount())
}

func TestGatherer_HonoursContext(t *testing.T) {
	slow := &stubSource{name: enhance.SourceKBArticles, items: []enhance.Item{{ID: "KB-1"}}, delay: time.Minute}
	g := New(zap.NewNop().Sugar(), slow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	bundle, err := g.Gather(ctx, request())
	require.Error(t, err)
	require.NotNil(t, bundle)
	assert.True(t, bundle.IsEmpty())
	assert.Equal(t, 1, bundle.FailureCount())
}

func TestGatherer_NoSources(t *testing.T) {
	bundle, err := New(nil).Gather(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, bundle.IsEmpty())
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"vpn", "drops", "laptop", "sleep"}, Terms("The VPN drops after laptop sleep, VPN again!"))
	assert.Equal(t, []string{"wi-fi", "5ghz"}, Terms("Wi-Fi on 5GHz -- help"))
	assert.Empty(t, Terms("it is on"))
	assert.Len(t, Terms("one two three four five six seven eight nine ten eleven twelve"), MaxTerms)
}

func TestCorpusSources(t *testing.T) {
	ctx := context.Background()
	corpus := NewCorpus(tptest.CreateMigratedTestDB(t))

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "acme", TicketID: "T-1", Subject: "VPN drops after sleep", Resolution: "Disable NIC power saving", ResolvedAt: &older}))
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "acme", TicketID: "T-2", Subject: "VPN slow", Resolution: "Switched gateway", ResolvedAt: &newer}))
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "acme", TicketID: "T-100", Subject: "VPN drops after laptop sleep"}))
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "globex", TicketID: "G-1", Subject: "VPN drops after sleep"}))
	require.NoError(t, corpus.UpsertArticle(ctx, Article{TenantID: "acme", ArticleID: "KB-7", Title: "Laptop sleep settings", Body: "Power plans and 100%_wake timers", URL: "https://kb.example.com/7"}))

	q := Query{TenantID: "acme", TicketID: "T-100", Terms: Terms("VPN drops after laptop sleep")}

	t.Run("similar tickets ranked by term overlap", func(t *testing.T) {
		items, err := NewSimilarTickets(corpus, 0).Fetch(ctx, q)
		require.NoError(t, err)
		require.Len(t, items, 2, "own ticket and other tenants excluded")
		assert.Equal(t, "T-1", items[0].ID)
		assert.Equal(t, "T-2", items[1].ID)
		require.NotNil(t, items[0].Score)
		assert.Greater(t, *items[0].Score, *items[1].Score)
		assert.Equal(t, "Disable NIC power saving", items[0].Summary)
	})

	t.Run("limit applies", func(t *testing.T) {
		items, err := NewSimilarTickets(corpus, 1).Fetch(ctx, q)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("kb articles", func(t *testing.T) {
		items, err := NewKBArticles(corpus, 3).Fetch(ctx, q)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "KB-7", items[0].ID)
		assert.Equal(t, "https://kb.example.com/7", items[0].URL)
	})

	t.Run("like wildcards are literal", func(t *testing.T) {
		items, err := NewKBArticles(corpus, 3).Fetch(ctx, Query{TenantID: "acme", Terms: []string{"0%_w"}})
		require.NoError(t, err)
		assert.Len(t, items, 1)

		items, err = NewKBArticles(corpus, 3).Fetch(ctx, Query{TenantID: "acme", Terms: []string{"s_eep"}})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("no terms, no query", func(t *testing.T) {
		items, err := NewKBArticles(corpus, 3).Fetch(ctx, Query{TenantID: "acme"})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		require.NoError(t, corpus.UpsertArticle(ctx, Article{TenantID: "acme", ArticleID: "KB-7", Title: "Renamed"}))
		items, err := NewKBArticles(corpus, 3).Fetch(ctx, Query{TenantID: "acme", Terms: []string{"renamed"}})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Empty(t, items[0].URL)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "acme"}))
		assert.Error(t, corpus.UpsertArticle(ctx, Article{ArticleID: "KB-1", Title: "x"}))
	})
}

func TestCorpus_StrongMatchOutranksManyWeakOnes(t *testing.T) {
	ctx := context.Background()
	corpus := NewCorpus(tptest.CreateMigratedTestDB(t))

	const limit = 5
	for i := 0; i < limit*candidateFactor+5; i++ {
		require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{
			TenantID: "acme",
			TicketID: fmt.Sprintf("T-%02d", i),
			Subject:  "vpn question",
		}))
	}
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{
		TenantID: "acme",
		TicketID: "Z-BEST",
		Subject:  "vpn drops laptop sleep dns",
	}))

	matches, err := corpus.SearchTickets(ctx, "acme", "", Terms("vpn drops laptop sleep dns"), limit)
	require.NoError(t, err)
	require.Len(t, matches, limit)
	assert.Equal(t, "Z-BEST", matches[0].ID)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, 0.2, matches[1].Score)
}

func TestDiagnostics(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"checks": []DiagnosticCheck{
				{Name: "vpn-gateway", Status: "degraded", Detail: "packet loss 12%"},
				{Name: "dns", Status: "ok"},
			},
		})
	}))
	defer srv.Close()

	d := NewDiagnostics(srv.URL+"/checks?env=prod", httpclient.WrapClient(srv.Client()))
	items, err := d.Fetch(context.Background(), Query{TenantID: "acme", TicketID: "T-100"})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "tenant_id=acme")
	assert.Contains(t, gotQuery, "ticket_id=T-100")
	assert.Contains(t, gotQuery, "env=prod")
	require.Len(t, items, 2)
	assert.Equal(t, "vpn-gateway", items[0].ID)
	assert.Equal(t, "degraded - packet loss 12%", items[0].Summary)
	assert.Equal(t, "ok", items[1].Summary)
}

func TestDiagnostics_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/garbage" {
			_, _ = w.Write([]byte("<html>"))
			return
		}
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	client := httpclient.WrapClient(srv.Client())

	_, err := NewDiagnostics(srv.URL+"/checks", client).Fetch(context.Background(), Query{TenantID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	_, err = NewDiagnostics(srv.URL+"/garbage", client).Fetch(context.Background(), Query{TenantID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestDiagnostics_BlocksPrivateTargets(t *testing.T) {
	d := NewDiagnostics("http://127.0.0.1:9/checks", httpclient.New(time.Second))
	_, err := d.Fetch(context.Background(), Query{TenantID: "acme"})
	require.Error(t, err)
}

func TestGatherer_EndToEndWithCorpus(t *testing.T) {
	ctx := context.Background()
	corpus := NewCorpus(tptest.CreateMigratedTestDB(t))
	require.NoError(t, corpus.UpsertTicket(ctx, ResolvedTicket{TenantID: "acme", TicketID: "T-1", Subject: "VPN drops after sleep"}))

	g := New(zap.NewNop().Sugar(), NewSimilarTickets(corpus, 3), NewKBArticles(corpus, 3))
	bundle, err := g.Gather(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, 1, bundle.SuccessCount())
	assert.Contains(t, enhance.FormatFallback(bundle), "[T-1] VPN drops after sleep")
}
