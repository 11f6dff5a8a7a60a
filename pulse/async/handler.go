package async

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/teranos/ticketpulse/errors"
)

// ErrNoHandler is returned for a job whose handler name nothing claims
var ErrNoHandler = errors.New("no handler registered")

// JobHandler executes one kind of job. The handler owns the decoding of job.Payload
// and must return promptly once ctx is done.
type JobHandler interface {
	Execute(ctx context.Context, job *Job) error
	Name() string
}

// HandlerRegistry maps handler names (e.g. "ticket.enhance") to handlers. Safe for
// concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]JobHandler{}}
}

// Register panics when the name is taken; two handlers for one name is a wiring bug.
func (r *HandlerRegistry) Register(h JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, taken := r.handlers[name]; taken {
		panic(fmt.Sprintf("async: handler %q registered twice", name))
	}
	r.handlers[name] = h
}

// Get returns nil for an unknown name
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

func (r *HandlerRegistry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names lists the registered handler names in sorted order.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// RegistryExecutor routes jobs to the handler named by job.HandlerName, handing
// unclaimed jobs to fallback when one is set.
type RegistryExecutor struct {
	registry *HandlerRegistry
	fallback JobExecutor
}

func NewRegistryExecutor(registry *HandlerRegistry, fallback JobExecutor) *RegistryExecutor {
	return &RegistryExecutor{registry: registry, fallback: fallback}
}

func (e *RegistryExecutor) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.NewInvalidRequestError("job %s has no handler name", job.ID)
	}
	if h := e.registry.Get(job.HandlerName); h != nil {
		return h.Execute(ctx, job)
	}
	if e.fallback != nil {
		return e.fallback.Execute(ctx, job)
	}
	return errors.Wrapf(ErrNoHandler, "handler %q", job.HandlerName)
}
