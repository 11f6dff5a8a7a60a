package server

import (
	"net/http"
	"time"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/logger"
)

// Handler returns the HTTP handler with all routes and middleware installed.
// The client hub starts on first use.
func (s *Server) Handler() http.Handler {
	s.startHub()

	mux := http.NewServeMux()

	// Ingress
	mux.HandleFunc("POST /api/tickets/events", s.HandleTicketEvent)

	// Execution history
	mux.HandleFunc("GET /api/executions", s.HandleListExecutions)
	mux.HandleFunc("GET /api/executions/stale", s.HandleStaleExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.HandleGetExecution)

	// Async jobs
	mux.HandleFunc("GET /api/jobs", s.HandleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.HandleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.HandleCancelJob)
	mux.HandleFunc("GET /ws/jobs", s.HandleJobFeed)

	mux.HandleFunc("GET /healthz", s.HandleHealth)

	return s.corsMiddleware(s.logRequests(mux))
}

// corsMiddleware answers preflight requests and echoes allowed origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !checkOrigin(origin, s.cfg.AllowedOrigins) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+correlation.Header)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap supports http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upgrader needs the raw writer's Hijacker
		if r.URL.Path == "/ws/jobs" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldRemote, r.RemoteAddr,
		)
	})
}
