// Package server is the ticketpulse ingress: it accepts ticket events, exposes
// execution records and async jobs, and streams job updates over WebSocket.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse"
	"github.com/teranos/ticketpulse/pulse/async"
)

// Config configures the HTTP listener
type Config struct {
	Port           int
	AllowedOrigins []string
	StaleAfter     time.Duration // Default age for /api/executions/stale
}

// DefaultStaleAfter applies when Config.StaleAfter is zero
const DefaultStaleAfter = 30 * time.Minute

// Deps are the components the server fronts. Pool may be nil when jobs are processed
// elsewhere; the server then only enqueues.
type Deps struct {
	Dispatcher *enhance.Dispatcher
	Queue      *async.Queue
	History    *history.Recorder
	Pool       *async.WorkerPool
}

// Server serves the ingress API and the job feed
type Server struct {
	cfg        Config
	dispatcher *enhance.Dispatcher
	queue      *async.Queue
	history    *history.Recorder
	pool       *async.WorkerPool
	logger     *zap.SugaredLogger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	httpServer *http.Server
	startedAt  time.Time

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	hubOnce        sync.Once
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

var _ pulse.JobBroadcaster = (*Server)(nil)

// New creates a server. Nothing listens until Start or Serve.
func New(cfg Config, deps Deps, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.Logger
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		dispatcher: deps.Dispatcher,
		queue:      deps.Queue,
		history:    deps.History,
		pool:       deps.Pool,
		logger:     log.Named("server"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if s.queue == nil && s.pool != nil {
		s.queue = s.pool.GetQueue()
	}
	s.state.Store(int32(ServerStateRunning))
	return s
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(next ServerState) {
	s.state.Store(int32(next))
	s.logger.Infow("Server state changed", "new_state", next.String())
}

// startHub starts the client hub and the job feed once
func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
		if s.queue != nil {
			s.startJobUpdateBroadcaster()
		}
	})
}

// run owns client registration until the server context ends
func (s *Server) run() {
	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				client.close()
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Job feed client connected", "client_id", client.id, "total_clients", total)
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
		client.close()
	}
	total := len(s.clients)
	s.mu.Unlock()

	if ok {
		s.logger.Infow("Job feed client disconnected", "client_id", client.id, "total_clients", total)
	}
}

// clientCount returns the number of connected feed clients
func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
