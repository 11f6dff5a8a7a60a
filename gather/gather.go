// Package gather implements the CONTEXT phase: it queries every configured context
// source concurrently and merges their answers into one bundle.
package gather

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

// DefaultSourceLimit caps items per source when a source has no limit of its own
const DefaultSourceLimit = 5

// Query is what every source receives
type Query struct {
	TenantID    string
	TicketID    string
	Description string
	Terms       []string // Keywords extracted from Description
}

// Source retrieves one kind of supporting data. Fetch must honour ctx.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]enhance.Item, error)
}

// Gatherer fans a request out to its sources. A failing source is annotated in the
// bundle and never fails the others.
type Gatherer struct {
	sources []Source
	logger  *zap.SugaredLogger
}

var _ enhance.ContextGatherer = (*Gatherer)(nil)

// New creates a gatherer over sources
func New(log *zap.SugaredLogger, sources ...Source) *Gatherer {
	if log == nil {
		log = logger.Logger
	}
	return &Gatherer{
		sources: sources,
		logger:  log.Named("gather"),
	}
}

// Sources returns the configured source names, in registration order
func (g *Gatherer) Sources() []string {
	names := make([]string, len(g.sources))
	for i, s := range g.sources {
		names[i] = s.Name()
	}
	return names
}

// Gather implements enhance.ContextGatherer. Per-source failures are recorded in the
// bundle and carried by the group only for logging; the returned error is non-nil only when ctx ended before all sources answered.
func (g *Gatherer) Gather(ctx context.Context, req enhance.GatherRequest) (*enhance.Bundle, error) {
	q := Query{
		TenantID:    req.TenantID,
		TicketID:    req.TicketID,
		Description: req.Description,
		Terms:       Terms(req.Description),
	}
	log := logger.FromContext(ctx, g.logger)

	bundle := enhance.NewBundle()
	var mu sync.Mutex

	var eg errgroup.Group
	for _, src := range g.sources {
		eg.Go(func() error {
			start := time.Now()
			items, err := fetch(ctx, src, q)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnw(logger.SymDegrade+" Context source failed",
					logger.FieldSource, src.Name(),
					logger.FieldError, err,
				)
				bundle.AddError(src.Name(), err)
				return errors.Wrapf(err, "source %s", src.Name())
			}
			bundle.Add(src.Name(), items...)
			log.Debugw("Context source answered",
				logger.FieldSource, src.Name(),
				"items", len(items),
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
			)
			return nil
		})
	}
	// Sources never cancel each other; Wait only reports the first failure
	if err := eg.Wait(); err != nil {
		log.Infow(logger.SymDegrade+" Context gathered with degraded sources",
			"failed_sources", len(bundle.Errors),
			logger.FieldError, err,
		)
	}

	// Map order is random; keep error annotations stable for rendering
	sortErrors(bundle.Errors, g.Sources())

	if err := ctx.Err(); err != nil {
		return bundle, errors.Wrap(err, "context gathering interrupted")
	}
	return bundle, nil
}

// fetch calls src, converting a panic into an error
func fetch(ctx context.Context, src Source, q Query) (items []enhance.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("source %s panicked: %v", src.Name(), r)
		}
	}()
	return src.Fetch(ctx, q)
}

func sortErrors(errs []enhance.SourceError, order []string) {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	// Insertion sort: a handful of entries at most
	for i := 1; i < len(errs); i++ {
		for j := i; j > 0 && rank[errs[j].Source] < rank[errs[j-1].Source]; j-- {
			errs[j], errs[j-1] = errs[j-1], errs[j]
		}
	}
}
