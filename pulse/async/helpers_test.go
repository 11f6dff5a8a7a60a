package async

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestJob builds a queued job whose payload looks like a ticket event for source
// ("tenant/ticket").
func createTestJob(t *testing.T, handlerName, source string) *Job {
	t.Helper()

	tenant, ticket, _ := strings.Cut(source, "/")
	payload, err := json.Marshal(map[string]string{"tenant_id": tenant, "ticket_id": ticket})
	require.NoError(t, err)

	job, err := NewJob(handlerName, source, payload)
	require.NoError(t, err)
	return job
}
