package correlation

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/ticketpulse/logger"
)

func TestNewIsUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate correlation ID %s", id)
		seen[id] = true
	}
}

func TestParse(t *testing.T) {
	id := New()
	parsed, ok := Parse(id.String())
	assert.True(t, ok)
	assert.Equal(t, id, parsed)

	_, ok = Parse("not-a-uuid")
	assert.False(t, ok)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	id := New()
	ctx := With(context.Background(), id)
	got, ok := From(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestLoggerCarriesCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := logger.Logger
	logger.Logger = zap.New(core).Sugar()
	t.Cleanup(func() { logger.Logger = prev })

	id := New()
	ctx := logger.WithTicket(With(context.Background(), id), "acme", "T-1")
	Logger(ctx).Infow("gathering context")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id.String(), fields[logger.FieldCorrelationID])
	assert.Equal(t, "acme", fields[logger.FieldTenantID])
	assert.Equal(t, "T-1", fields[logger.FieldTicketID])
}

func TestStamp(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://sd.example.com", nil)
	require.NoError(t, err)

	Stamp(context.Background(), req)
	assert.Empty(t, req.Header.Get(Header))

	id := New()
	Stamp(With(context.Background(), id), req)
	assert.Equal(t, id.String(), req.Header.Get(Header))
}
