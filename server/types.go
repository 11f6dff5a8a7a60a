package server

import (
	"time"

	"github.com/teranos/ticketpulse/pulse/async"
)

const (
	// MaxClients is the maximum number of concurrent job feed clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	// The worker pool alone may take its StopTimeout (30s by default).
	ShutdownTimeout = 45 * time.Second
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventAccepted is the response to a queued ticket event
type EventAccepted struct {
	JobID  string          `json:"job_id"`
	Status async.JobStatus `json:"status"`
}

// JobUpdateMessage is pushed to feed clients whenever a job changes
type JobUpdateMessage struct {
	Type      string     `json:"type"` // "job_update"
	Job       *async.Job `json:"job"`
	Timestamp int64      `json:"timestamp"`
}

// HelloMessage is the first message a feed client receives
type HelloMessage struct {
	Type     string `json:"type"` // "hello"
	ClientID string `json:"client_id"`
	Version  string `json:"version"`
}

// HealthResponse is served by /healthz
type HealthResponse struct {
	Status        string               `json:"status"` // "ok" or "draining"
	Version       string               `json:"version"`
	ServerState   string               `json:"server_state"`
	Workers       int                  `json:"workers"`
	JobsProcessed int                  `json:"jobs_processed"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Queue         *async.QueueStats    `json:"queue,omitempty"`
	System        *async.SystemMetrics `json:"system,omitempty"`
	Clients       int                  `json:"clients"`
}
