package enhance

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/history"
	tptest "github.com/teranos/ticketpulse/internal/testing"
)

// fakeGatherer returns a fixed bundle, or runs fn when set
type fakeGatherer struct {
	mu     sync.Mutex
	calls  int
	last   GatherRequest
	bundle *Bundle
	err    error
	fn     func(ctx context.Context, req GatherRequest) (*Bundle, error)
}

func (g *fakeGatherer) Gather(ctx context.Context, req GatherRequest) (*Bundle, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	fn := g.fn
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return g.bundle, g.err
}

func (g *fakeGatherer) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeSynth records the bundle it was given
type fakeSynth struct {
	mu     sync.Mutex
	calls  int
	bundle *Bundle
	text   string
	err    error
	panic  interface{}
}

func (s *fakeSynth) Synthesize(ctx context.Context, bundle *Bundle, correlationID string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.bundle = bundle
	s.mu.Unlock()

	if s.panic != nil {
		panic(s.panic)
	}
	return s.text, s.err
}

func (s *fakeSynth) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeUpdater records posted comments
type fakeUpdater struct {
	mu       sync.Mutex
	requests []CommentRequest
	posted   bool
	err      error
	fn       func(ctx context.Context, req CommentRequest) (bool, error)
}

func (u *fakeUpdater) PostComment(ctx context.Context, req CommentRequest) (bool, error) {
	u.mu.Lock()
	u.requests = append(u.requests, req)
	fn := u.fn
	u.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return u.posted, u.err
}

func (u *fakeUpdater) Requests() []CommentRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]CommentRequest(nil), u.requests...)
}

// recordingEmitter captures progress events
type recordingEmitter struct {
	mu     sync.Mutex
	stages []string
	errors []string
}

func (e *recordingEmitter) EmitStage(stage, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, stage)
}

func (e *recordingEmitter) EmitError(stage string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, stage)
}

func (e *recordingEmitter) EmitInfo(message string) {}

type fixture struct {
	gatherer *fakeGatherer
	synth    *fakeSynth
	updater  *fakeUpdater
	recorder *history.Recorder
	pipeline *Pipeline
}

func testConfig() Config {
	return Config{
		ContextTimeout: time.Second,
		Default:        Endpoint{BaseURL: "https://desk.example.com", APIKey: "default-key"},
		Tenants: map[string]Endpoint{
			"acme": {BaseURL: "https://acme.desk.example.com", APIKey: "acme-key"},
		},
	}
}

// newFixture wires a pipeline over fakes and a real history recorder
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testConfig(), history.NewRecorder(history.NewStore(tptest.CreateMigratedTestDB(t))))
}

func newFixtureWith(t *testing.T, cfg Config, recorder *history.Recorder) *fixture {
	t.Helper()

	f := &fixture{
		gatherer: &fakeGatherer{bundle: threeTicketsTwoArticles()},
		synth:    &fakeSynth{text: "Likely a DNS misconfiguration; see KB-7."},
		updater:  &fakeUpdater{posted: true},
		recorder: recorder,
	}
	p, err := NewPipeline(cfg, Deps{
		Gatherer:    f.gatherer,
		Synthesizer: f.synth,
		Updater:     f.updater,
		History:     f.recorder,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func newMigratedDB(t *testing.T) *sql.DB {
	t.Helper()
	return tptest.CreateMigratedTestDB(t)
}

func threeTicketsTwoArticles() *Bundle {
	b := NewBundle()
	b.Add(SourceSimilarTickets,
		Item{ID: "T-11", Title: "VPN drops every hour"},
		Item{ID: "T-12", Title: "VPN drops after sleep"},
		Item{ID: "T-13", Title: "DNS fails on VPN"},
	)
	b.Add(SourceKBArticles,
		Item{ID: "KB-7", Title: "Resetting VPN profiles"},
		Item{ID: "KB-9", Title: "Split DNS"},
	)
	return b
}

func vpnEvent() Event {
	return Event{TenantID: "acme", TicketID: "T-100", Description: "VPN keeps dropping"}
}
