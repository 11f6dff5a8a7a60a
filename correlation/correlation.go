// Package correlation generates and threads the correlation ID that ties together every
// log line, outbound call and history record of one enhancement execution.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/logger"
)

// Header carries the correlation ID on outbound HTTP requests.
const Header = "X-Correlation-ID"

// ID identifies one pipeline execution. Immutable once generated.
type ID string

// String returns the printable form of the ID
func (id ID) String() string {
	return string(id)
}

type contextKey struct{}

// New generates a globally unique correlation ID
func New() ID {
	return ID(uuid.NewString())
}

// Parse validates an externally supplied correlation ID (e.g. from an inbound header).
func Parse(s string) (ID, bool) {
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return ID(s), true
}

// With returns a context carrying id. The logger fields are attached as well so that
// logger.FromContext picks the ID up without importing this package.
func With(ctx context.Context, id ID) context.Context {
	ctx = context.WithValue(ctx, contextKey{}, id)
	return logger.WithCorrelationID(ctx, string(id))
}

// From extracts the correlation ID from ctx
func From(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(contextKey{}).(ID)
	return id, ok && id != ""
}

// Logger returns the global logger carrying the correlation ID and ticket fields of ctx
func Logger(ctx context.Context) *zap.SugaredLogger {
	return logger.FromContext(ctx, nil)
}

// Stamp sets the correlation header on req when ctx carries an ID
func Stamp(ctx context.Context, req *http.Request) {
	if id, ok := From(ctx); ok {
		req.Header.Set(Header, id.String())
	}
}
