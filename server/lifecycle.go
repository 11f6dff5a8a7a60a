package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

// Start listens on the configured port and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.cfg.Port)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. Returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Infow(logger.SymOpen+" Ticketpulse server listening", "addr", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Stop drains the server: new events are refused, the worker pool finishes or
// cancels running jobs, the listener closes and feed clients are disconnected.
// Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStateRunning), int32(ServerStateDraining)) {
		return nil
	}
	s.logger.Infow(logger.SymClose+" Server draining", "new_state", ServerStateDraining.String())

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ShutdownTimeout)
		defer cancel()
	}

	if s.pool != nil {
		s.pool.Stop()
	}

	var shutdownErr error
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "http shutdown")
		}
	}

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = errors.Wrap(ctx.Err(), "waiting for hub")
		}
	}

	s.setState(ServerStateStopped)
	return shutdownErr
}
