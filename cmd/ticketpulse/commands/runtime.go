package commands

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/ai/provider"
	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/gather"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/internal/httpclient"
	"github.com/teranos/ticketpulse/pulse/async"
	"github.com/teranos/ticketpulse/servicedesk"
	"github.com/teranos/ticketpulse/synth"
)

// runtime is the fully wired enhancement stack over one database
type runtime struct {
	cfg        *am.Config
	queue      *async.Queue
	history    *history.Recorder
	corpus     *gather.Corpus
	pipeline   *enhance.Pipeline
	task       *enhance.Task
	dispatcher *enhance.Dispatcher
	provider   provider.Provider
}

// diagnosticsClientOptions is the SSRF policy of the diagnostics source. It follows
// gather.allow_private_networks only; the ServiceDesk setting never widens it.
func diagnosticsClientOptions(cfg *am.Config) httpclient.Options {
	return httpclient.Options{AllowPrivateNetworks: cfg.Gather.AllowPrivateNetworks}
}

// buildRuntime wires collaborators from configuration. Nothing is started.
func buildRuntime(cfg *am.Config, database *sql.DB, providerName string, log *zap.SugaredLogger) (*runtime, error) {
	queue := async.NewQueue(database)
	recorder := history.NewRecorder(history.NewStore(database))
	corpus := gather.NewCorpus(database)

	sources := []gather.Source{
		gather.NewSimilarTickets(corpus, cfg.Gather.SimilarTicketLimit),
		gather.NewKBArticles(corpus, cfg.Gather.KBArticleLimit),
	}
	if cfg.Gather.DiagnosticsURL != "" {
		client := httpclient.NewWithOptions(cfg.Enhancement.ContextTimeout(), diagnosticsClientOptions(cfg))
		sources = append(sources, gather.NewDiagnostics(cfg.Gather.DiagnosticsURL, client))
	}
	gatherer := gather.New(log, sources...)

	p := provider.DetermineProvider(cfg, providerName)
	var synthesizer enhance.Synthesizer
	if slices.Contains(provider.GetAvailableProviders(cfg), p) {
		synthesizer = synth.New(provider.NewAIClientWithProvider(cfg, p, log), log)
	} else {
		log.Warnw("Synthesis provider is not configured, enhancements will use the fallback rendering", "provider", p)
	}

	updater := servicedesk.New(servicedesk.Config{
		Timeout:              time.Duration(cfg.ServiceDesk.TimeoutSeconds) * time.Second,
		MaxRequestsPerMinute: cfg.ServiceDesk.MaxRequestsPerMinute,
		AllowPrivateNetworks: cfg.ServiceDesk.AllowPrivateNetworks,
		Logger:               log,
	})

	pipeline, err := enhance.NewPipeline(pipelineConfig(cfg), enhance.Deps{
		Gatherer:    gatherer,
		Synthesizer: synthesizer,
		Updater:     updater,
		History:     recorder,
	}, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build pipeline")
	}

	task := enhance.NewTask(pipeline, enhance.Limits{
		Soft: cfg.Enhancement.SoftLimit(),
		Hard: cfg.Enhancement.HardLimit(),
	}, queue, log)

	return &runtime{
		cfg:        cfg,
		queue:      queue,
		history:    recorder,
		corpus:     corpus,
		pipeline:   pipeline,
		task:       task,
		dispatcher: enhance.NewDispatcher(queue),
		provider:   p,
	}, nil
}

func pipelineConfig(cfg *am.Config) enhance.Config {
	tenants := make(map[string]enhance.Endpoint, len(cfg.ServiceDesk.Tenants))
	for id := range cfg.ServiceDesk.Tenants {
		tc := cfg.ServiceDesk.Tenant(id)
		tenants[id] = enhance.Endpoint{BaseURL: tc.BaseURL, APIKey: tc.APIKey}
	}
	return enhance.Config{
		ContextTimeout: cfg.Enhancement.ContextTimeout(),
		Default:        enhance.Endpoint{BaseURL: cfg.ServiceDesk.BaseURL, APIKey: cfg.ServiceDesk.APIKey},
		Tenants:        tenants,
	}
}

// newWorkerPool creates a pool running the task, or nil when workers are disabled
func (rt *runtime) newWorkerPool(ctx context.Context, workers int, log *zap.SugaredLogger) *async.WorkerPool {
	if workers <= 0 {
		return nil
	}
	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	if rt.cfg.Pulse.PollIntervalMS > 0 {
		poolCfg.PollInterval = time.Duration(rt.cfg.Pulse.PollIntervalMS) * time.Millisecond
	}
	if rt.cfg.Pulse.StopTimeoutSeconds > 0 {
		poolCfg.StopTimeout = time.Duration(rt.cfg.Pulse.StopTimeoutSeconds) * time.Second
	}
	poolCfg.Retention = time.Duration(rt.cfg.Pulse.RetentionDays) * 24 * time.Hour

	pool := async.NewWorkerPoolWithQueue(ctx, rt.queue, poolCfg, log, nil)
	pool.Registry().Register(rt.task)
	return pool
}
