package enhance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/pulse/async"
)

func TestLimits_Defaults(t *testing.T) {
	l := Limits{}.withDefaults()
	assert.Equal(t, DefaultSoftLimit, l.Soft)
	assert.Equal(t, DefaultHardLimit, l.Hard)

	l = Limits{Soft: time.Minute, Hard: time.Minute}.withDefaults()
	assert.Less(t, l.Soft, l.Hard, "soft limit must come first")

	l = Limits{Soft: time.Second, Hard: 2 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, l.Soft)
}

func TestTask_Run(t *testing.T) {
	f := newFixture(t)
	task := NewTask(f.pipeline, Limits{}, nil, zap.NewNop().Sugar())

	out, err := task.Run(context.Background(), vpnEvent())
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)

	_, ok := correlation.Parse(out.CorrelationID.String())
	assert.True(t, ok)
}

func TestTask_SoftLimitSkipsSynthesis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gatherer.fn = func(ctx context.Context, req GatherRequest) (*Bundle, error) {
		select {
		case <-SoftDeadline(ctx):
		case <-time.After(time.Second):
			t.Error("soft deadline never signalled")
		}
		assert.True(t, SoftDeadlineExceeded(ctx))
		return threeTicketsTwoArticles(), nil
	}
	task := NewTask(f.pipeline, Limits{Soft: 20 * time.Millisecond, Hard: 5 * time.Second}, nil, zap.NewNop().Sugar())

	out, err := task.Run(ctx, vpnEvent())
	require.NoError(t, err, "the soft limit never aborts an execution")

	assert.Equal(t, 0, f.synth.Calls())
	assert.Equal(t, history.SourceFallback, out.Source)

	rec, err := f.recorder.Get(ctx, out.CorrelationID.String())
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, rec.Status)
}

func TestTask_HardLimitLeavesRecordPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.updater.fn = func(ctx context.Context, req CommentRequest) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
	task := NewTask(f.pipeline, Limits{Soft: 10 * time.Millisecond, Hard: 50 * time.Millisecond}, nil, zap.NewNop().Sugar())

	out, err := task.Run(ctx, vpnEvent())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHardLimit))
	assert.True(t, errors.Is(err, ErrAbandoned))

	records, total, err := f.recorder.List(ctx, history.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, history.StatusPending, records[0].Status)
	if out != nil {
		assert.Equal(t, records[0].CorrelationID, out.CorrelationID.String())
	}
}

func TestTask_HardLimitWithStuckCollaborator(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.updater.fn = func(ctx context.Context, req CommentRequest) (bool, error) {
		// Ignores cancellation
		<-release
		return true, nil
	}
	task := NewTask(f.pipeline, Limits{Soft: 10 * time.Millisecond, Hard: 50 * time.Millisecond}, nil, zap.NewNop().Sugar())

	start := time.Now()
	out, err := task.Run(context.Background(), vpnEvent())
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrHardLimit))
}

func TestTask_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	f.gatherer.fn = func(gctx context.Context, req GatherRequest) (*Bundle, error) {
		cancel()
		<-gctx.Done()
		return nil, gctx.Err()
	}
	task := NewTask(f.pipeline, Limits{}, nil, zap.NewNop().Sugar())

	_, err := task.Run(ctx, vpnEvent())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAbandoned))
	assert.False(t, errors.Is(err, ErrHardLimit))
}

func TestSoftDeadline_OutsideTask(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SoftDeadlineExceeded(ctx))
	assert.Nil(t, SoftDeadline(ctx))
}

func TestTask_ExecuteJob(t *testing.T) {
	ctx := context.Background()
	database := newMigratedDB(t)
	queue := async.NewQueue(database)
	f := newFixtureWith(t, testConfig(), history.NewRecorder(history.NewStore(database)))
	task := NewTask(f.pipeline, Limits{}, queue, zap.NewNop().Sugar())
	assert.Equal(t, HandlerName, task.Name())

	job, err := NewDispatcher(queue).Submit(vpnEvent())
	require.NoError(t, err)

	require.NoError(t, task.Execute(ctx, job))

	stored, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.CorrelationID, "the job links to its execution record")
	assert.Equal(t, len(progressStages), stored.Progress.Total)
	assert.Equal(t, len(progressStages), stored.Progress.Current)

	rec, err := f.recorder.Get(ctx, stored.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, rec.Status)
	assert.Equal(t, job.ID, rec.JobID)
	assert.Equal(t, "T-100", rec.TicketID)
}

func TestTask_ExecuteRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	task := NewTask(f.pipeline, Limits{}, nil, zap.NewNop().Sugar())

	job, err := async.NewJob(HandlerName, "acme/T-1", json.RawMessage(`{not json`))
	require.NoError(t, err)

	err = task.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 0, f.gatherer.Calls())
}

func TestTask_RunsInWorkerPool(t *testing.T) {
	ctx := context.Background()
	database := newMigratedDB(t)
	queue := async.NewQueue(database)
	f := newFixtureWith(t, testConfig(), history.NewRecorder(history.NewStore(database)))

	registry := async.NewHandlerRegistry()
	registry.Register(NewTask(f.pipeline, Limits{}, queue, zap.NewNop().Sugar()))
	pool := async.NewWorkerPoolWithQueue(ctx, queue, async.WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop().Sugar(), registry)
	pool.Start()
	defer pool.Stop()

	job, err := NewDispatcher(queue).Submit(vpnEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.GetJob(job.ID)
		return err == nil && got.Status == async.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	assert.Len(t, f.updater.Requests(), 1)
}

func TestDispatcher_Submit(t *testing.T) {
	queue := async.NewQueue(newMigratedDB(t))
	d := NewDispatcher(queue)

	ev := vpnEvent()
	ev.JobID = "caller-supplied"
	job, err := d.Submit(ev)
	require.NoError(t, err)

	assert.Equal(t, HandlerName, job.HandlerName)
	assert.Equal(t, "acme/T-100", job.Source)
	assert.Equal(t, async.JobStatusQueued, job.Status)

	var decoded Event
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, "VPN keeps dropping", decoded.Description)
	assert.Empty(t, decoded.JobID)

	again, err := d.Submit(vpnEvent())
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, again.ID, "events are not deduplicated")

	_, err = d.Submit(Event{TenantID: "acme"})
	assert.Error(t, err)
}
