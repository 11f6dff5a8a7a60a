package async

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ticketpulse/errors"
	tptest "github.com/teranos/ticketpulse/internal/testing"
)

// ============================================================================
// Job Store Test Universe
// ============================================================================
//
// Theme: Kirby inhales tickets into the store and spits them back out intact.
// ============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(tptest.CreateMigratedTestDB(t))
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, "ticket.enhance", "dreamland/T-1")
	job.CorrelationID = "c0ffee"

	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "ticket.enhance", got.HandlerName)
	assert.Equal(t, "dreamland/T-1", got.Source)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Equal(t, "c0ffee", got.CorrelationID)
	assert.JSONEq(t, string(job.Payload), string(got.Payload))
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.StartedAt)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_UpdateJob(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, "ticket.enhance", "dreamland/T-2")
	require.NoError(t, store.CreateJob(job))

	job.Start()
	job.UpdateProgress(2, "SYNTHESIZE")
	job.Progress.Total = 4
	require.NoError(t, store.UpdateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Equal(t, 2, got.Progress.Current)
	assert.Equal(t, 4, got.Progress.Total)
	assert.Empty(t, got.Progress.Stage, "stage is not persisted")
	require.NotNil(t, got.StartedAt)

	job.Cancel("stop")
	require.NoError(t, store.UpdateJob(job))
	job.Status = JobStatusRunning
	err = store.UpdateJob(job)
	assert.True(t, errors.Is(err, ErrJobTerminal), "terminal rows are not rewritten")
	got, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, got.Status)

	missing := createTestJob(t, "ticket.enhance", "dreamland/T-404")
	err = store.UpdateJob(missing)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_NextQueuedJobIsOldest(t *testing.T) {
	store := newTestStore(t)

	first := createTestJob(t, "ticket.enhance", "dreamland/T-1")
	second := createTestJob(t, "ticket.enhance", "dreamland/T-2")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, store.CreateJob(second))
	require.NoError(t, store.CreateJob(first))

	next, err := store.NextQueuedJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)
}

func TestStore_NextQueuedJobEmpty(t *testing.T) {
	store := newTestStore(t)

	next, err := store.NextQueuedJob()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStore_ListAndCount(t *testing.T) {
	store := newTestStore(t)

	queued := createTestJob(t, "ticket.enhance", "dreamland/T-1")
	running := createTestJob(t, "ticket.enhance", "dreamland/T-2")
	running.Start()
	done := createTestJob(t, "ticket.enhance", "dreamland/T-3")
	done.Complete()
	for _, j := range []*Job{queued, running, done} {
		require.NoError(t, store.CreateJob(j))
	}

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	status := JobStatusCompleted
	completed, err := store.ListJobs(&status, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	active, err := store.ListActiveJobs(10)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	counts, err := store.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[JobStatusQueued])
	assert.Equal(t, 1, counts[JobStatusRunning])
	assert.Equal(t, 1, counts[JobStatusCompleted])
}

func TestStore_CleanupOldJobs(t *testing.T) {
	store := newTestStore(t)

	old := createTestJob(t, "ticket.enhance", "dreamland/T-old")
	old.Complete()
	old.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	oldQueued := createTestJob(t, "ticket.enhance", "dreamland/T-waiting")
	oldQueued.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := createTestJob(t, "ticket.enhance", "dreamland/T-new")
	fresh.Complete()
	for _, j := range []*Job{old, oldQueued, fresh} {
		require.NoError(t, store.CreateJob(j))
	}

	n, err := store.CleanupOldJobs(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only finished jobs past retention are removed")

	_, err = store.GetJob(old.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.GetJob(oldQueued.ID)
	assert.NoError(t, err)
}

func TestStore_CreateJobError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO async_jobs").WillReturnError(errors.New("disk full"))

	store := NewStore(mockDB)
	err = store.CreateJob(createTestJob(t, "ticket.enhance", "dreamland/T-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")
	assert.NoError(t, mock.ExpectationsWereMet())
}
