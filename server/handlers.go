package server

import (
	"net/http"
	"time"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse/async"
	"github.com/teranos/ticketpulse/version"
)

const maxListLimit = 500

// HandleTicketEvent accepts a ticket event and queues its enhancement.
// The caller gets 202 with the job ID; the outcome is recorded in history.
func (s *Server) HandleTicketEvent(w http.ResponseWriter, r *http.Request) {
	if s.State() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket dispatch is not configured")
		return
	}

	var ev enhance.Event
	if !readJSON(w, r, &ev) {
		return
	}

	job, err := s.dispatcher.Submit(ev)
	if err != nil {
		handleError(w, s.logger, err, "failed to queue ticket event")
		return
	}

	s.logger.Infow(logger.SymPulse+" Ticket event queued",
		logger.FieldTenantID, ev.TenantID,
		logger.FieldTicketID, ev.TicketID,
		logger.FieldJobID, shortID(job.ID),
		logger.FieldCorrelationID, r.Header.Get(correlation.Header),
	)
	writeJSON(w, http.StatusAccepted, EventAccepted{JobID: job.ID, Status: job.Status})
}

// HandleGetExecution returns one execution record by correlation ID
func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	rec, err := s.history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleListExecutions lists execution records, newest first
func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	q := r.URL.Query()
	filter := history.Filter{
		TenantID: q.Get("tenant"),
		TicketID: q.Get("ticket"),
		Limit:    parseIntQueryParam(r, "limit", history.DefaultListLimit, 1, maxListLimit),
		Offset:   parseIntQueryParam(r, "offset", 0, 0, 1<<30),
	}
	if raw := q.Get("status"); raw != "" {
		st := history.Status(raw)
		switch st {
		case history.StatusPending, history.StatusCompleted, history.StatusFailed:
			filter.Status = st
		default:
			writeError(w, http.StatusBadRequest, "invalid status: "+raw)
			return
		}
	}

	records, total, err := s.history.List(r.Context(), filter)
	if err != nil {
		handleError(w, s.logger, err, "failed to list executions")
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": records,
		"total":      total,
	})
}

// HandleStaleExecutions lists records still pending after ?older_than (a Go duration)
func (s *Server) HandleStaleExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	olderThan := s.cfg.StaleAfter
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid older_than: "+raw)
			return
		}
		olderThan = d
	}
	limit := parseIntQueryParam(r, "limit", history.DefaultListLimit, 1, maxListLimit)

	records, err := s.history.Stale(r.Context(), olderThan, limit)
	if err != nil {
		handleError(w, s.logger, err, "failed to list stale executions")
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": records,
		"older_than": olderThan.String(),
	})
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history is not configured")
		return false
	}
	return true
}

// HandleListJobs lists async jobs, optionally filtered by ?status
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}

	limit := parseIntQueryParam(r, "limit", 100, 1, maxListLimit)

	var (
		jobs []*async.Job
		err  error
	)
	switch raw := r.URL.Query().Get("status"); raw {
	case "":
		jobs, err = s.queue.ListJobs(nil, limit)
	case "active":
		jobs, err = s.queue.ListActiveJobs(limit)
	default:
		if !async.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "invalid status: "+raw)
			return
		}
		status := async.JobStatus(raw)
		jobs, err = s.queue.ListJobs(&status, limit)
	}
	if err != nil {
		handleError(w, s.logger, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleGetJob returns one async job
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	job, err := s.queue.GetJob(r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleCancelJob cancels a queued or running job. Finished jobs answer 409.
func (s *Server) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	id := r.PathValue("id")

	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !readJSON(w, r, &body) {
		return
	}
	if body.Reason == "" {
		body.Reason = "cancelled via API"
	}

	if err := s.queue.CancelJob(id, body.Reason); err != nil {
		if errors.Is(err, async.ErrJobTerminal) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		handleError(w, s.logger, err, "failed to cancel job")
		return
	}

	s.logger.Infow("Job cancelled", logger.FieldJobID, shortID(id), "reason", body.Reason)

	job, err := s.queue.GetJob(id)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) requireQueue(w http.ResponseWriter) bool {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue is not configured")
		return false
	}
	return true
}

// HandleHealth reports liveness, queue depth and worker state. Draining answers 503
// so load balancers stop routing new events here.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.State()
	resp := HealthResponse{
		Status:        "ok",
		Version:       version.Get().Short(),
		ServerState:   state.String(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Clients:       s.clientCount(),
	}

	if s.pool != nil {
		resp.Workers = s.pool.Workers()
		resp.JobsProcessed = s.pool.JobsProcessed()
		metrics := s.pool.GetSystemMetrics()
		resp.System = &metrics
	}
	if s.queue != nil {
		stats, err := s.queue.GetStats()
		if err != nil {
			s.logger.Warnw("Health check could not read queue stats", "error", err)
		} else {
			resp.Queue = stats
		}
	}

	status := http.StatusOK
	if state != ServerStateRunning {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
