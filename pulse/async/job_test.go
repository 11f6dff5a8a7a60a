package async

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Job Lifecycle Test Universe
// ============================================================================
//
// Theme: TAS Bot plays one ticket from queued to a terminal status, frame by frame.
// ============================================================================

func TestNewJob(t *testing.T) {
	t.Run("TAS Bot queues a fresh run", func(t *testing.T) {
		job := createTestJob(t, "ticket.enhance", "acme/T-1")

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, JobStatusQueued, job.Status)
		assert.Equal(t, "ticket.enhance", job.HandlerName)
		assert.Equal(t, "acme/T-1", job.Source)
		assert.False(t, job.CreatedAt.IsZero())
		assert.Nil(t, job.StartedAt)
		assert.Nil(t, job.CompletedAt)
	})

	t.Run("every run gets its own ID", func(t *testing.T) {
		a := createTestJob(t, "ticket.enhance", "acme/T-1")
		b := createTestJob(t, "ticket.enhance", "acme/T-1")
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("handler name is required", func(t *testing.T) {
		_, err := NewJob("", "acme/T-1", nil)
		assert.Error(t, err)
	})
}

func TestJobTransitions(t *testing.T) {
	t.Run("start then complete", func(t *testing.T) {
		job := createTestJob(t, "ticket.enhance", "acme/T-2")

		job.Start()
		assert.Equal(t, JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)

		job.Complete()
		assert.Equal(t, JobStatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.True(t, job.Status.IsTerminal())
	})

	t.Run("fail records the error", func(t *testing.T) {
		job := createTestJob(t, "ticket.enhance", "acme/T-3")
		job.Start()
		job.Fail(errors.New("desync at frame 4096"))

		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, "desync at frame 4096", job.Error)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("cancel records the reason", func(t *testing.T) {
		job := createTestJob(t, "ticket.enhance", "acme/T-4")
		job.Cancel("run reset")

		assert.Equal(t, JobStatusCancelled, job.Status)
		assert.Equal(t, "run reset", job.Error)
	})
}

func TestJobStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))

	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Percentage())
	assert.Equal(t, 50.0, Progress{Current: 2, Total: 4}.Percentage())

	job := createTestJob(t, "ticket.enhance", "acme/T-5")
	before := job.UpdatedAt
	job.UpdateProgress(3, "UPDATE")
	assert.Equal(t, 3, job.Progress.Current)
	assert.Equal(t, "UPDATE", job.Progress.Stage)
	assert.False(t, job.UpdatedAt.Before(before))
}

func TestJob_FailWithoutError(t *testing.T) {
	job, err := NewJob("ticket.enhance", "acme/T-9", nil)
	require.NoError(t, err)

	job.Fail(nil)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "unknown error", job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, job.UpdatedAt, *job.CompletedAt)
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("cancelled"))
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, JobStatus("paused").IsTerminal())
}
