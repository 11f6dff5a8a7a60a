package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings so log queries stay consistent.
const (
	// Execution identity
	FieldCorrelationID = "correlation_id"
	FieldTenantID      = "tenant_id"
	FieldTicketID      = "ticket_id"
	FieldJobID         = "job_id"

	// Pipeline
	FieldPhase     = "phase"
	FieldState     = "state"
	FieldSource    = "source"
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldTimeout    = "timeout"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount = "count"

	// HTTP
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStatus = "status"
	FieldRemote = "remote"
)

type contextKey string

const (
	correlationIDKey contextKey = "logger_correlation_id"
	tenantIDKey      contextKey = "logger_tenant_id"
	ticketIDKey      contextKey = "logger_ticket_id"
	jobIDKey         contextKey = "logger_job_id"
)

// WithCorrelationID adds a correlation ID to the context for logging
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithTicket adds tenant and ticket identifiers to the context for logging
func WithTicket(ctx context.Context, tenantID, ticketID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	return context.WithValue(ctx, ticketIDKey, ticketID)
}

// WithJobID adds an async job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw/With.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		fields = append(fields, FieldCorrelationID, id)
	}
	if tenant, ok := ctx.Value(tenantIDKey).(string); ok && tenant != "" {
		fields = append(fields, FieldTenantID, tenant)
	}
	if ticket, ok := ctx.Value(ticketIDKey).(string); ok && ticket != "" {
		fields = append(fields, FieldTicketID, ticket)
	}
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}

	return fields
}

// FromContext returns base with the context's logging fields attached.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
