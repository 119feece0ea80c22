package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/services/ticketsync"
)

type stubSweeper struct {
	mu     sync.Mutex
	calls  int
	result *ticketsync.SweepResult
	err    error
}

func (s *stubSweeper) SyncAll(ctx context.Context) (*ticketsync.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type memoryStatus struct {
	mu   sync.Mutex
	jobs map[string]models.ScheduledJob
}

func (m *memoryStatus) Save(_ context.Context, job *models.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = map[string]models.ScheduledJob{}
	}
	m.jobs[job.Slug] = *job
	return nil
}

func (m *memoryStatus) Load(context.Context) (map[string]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.ScheduledJob, len(m.jobs))
	for k, v := range m.jobs {
		out[k] = v
	}
	return out, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDefaultJobs(t *testing.T) {
	jobs := DefaultJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, DailySyncSlug, jobs[0].Slug)
	assert.Equal(t, HandlerSyncAll, jobs[0].Handler)
	assert.Equal(t, "0 6 * * *", jobs[0].Schedule)
}

func TestDailySyncFiresAtSixUTC(t *testing.T) {
	svc := NewService(WithLogger(quietLogger()))
	job := svc.jobs[DailySyncSlug]
	require.NotNil(t, job)

	schedule, err := svc.parser.Parse(job.Schedule)
	require.NoError(t, err)
	from := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC), schedule.Next(from))
}

func TestHandleSyncAll(t *testing.T) {
	sweeper := &stubSweeper{result: &ticketsync.SweepResult{
		Projects:  3,
		TotalSeen: 4,
		Failed:    []ticketsync.ProjectFailure{{ProjectID: 2, Error: "boom"}},
	}}
	status := &memoryStatus{}
	svc := NewService(WithLogger(quietLogger()), WithSweeper(sweeper), WithStatusStore(status))

	require.NoError(t, svc.RunNow(context.Background(), DailySyncSlug))
	assert.Equal(t, 1, sweeper.calls)

	saved, err := status.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, saved, DailySyncSlug)
	assert.NotNil(t, saved[DailySyncSlug].LastRunAt)
	assert.Empty(t, saved[DailySyncSlug].LastError)
}

func TestHandleSyncAllFailureThreshold(t *testing.T) {
	sweeper := &stubSweeper{result: &ticketsync.SweepResult{
		Projects: 2,
		Failed:   []ticketsync.ProjectFailure{{ProjectID: 1}, {ProjectID: 2}},
	}}
	jobs := DefaultJobs()
	jobs[0].Config["max_failed_projects"] = 2
	status := &memoryStatus{}
	svc := NewService(WithLogger(quietLogger()), WithSweeper(sweeper), WithJobs(jobs), WithStatusStore(status))

	err := svc.RunNow(context.Background(), DailySyncSlug)
	var sweepErr *SweepError
	require.ErrorAs(t, err, &sweepErr)
	assert.Equal(t, 2, sweepErr.Failed)

	saved, _ := status.Load(context.Background())
	assert.NotEmpty(t, saved[DailySyncSlug].LastError)
}

func TestHandleSyncAllWithoutSweeper(t *testing.T) {
	svc := NewService(WithLogger(quietLogger()))
	assert.NoError(t, svc.RunNow(context.Background(), DailySyncSlug))
}

func TestRunNowUnknownJob(t *testing.T) {
	svc := NewService(WithLogger(quietLogger()))
	assert.ErrorIs(t, svc.RunNow(context.Background(), "nope"), ErrUnknownJob)
}

func TestRunAppliesJobTimeout(t *testing.T) {
	jobs := []*models.ScheduledJob{{Slug: "slow", Handler: "test.slow", Schedule: "@every 1h", TimeoutSeconds: 1}}
	svc := NewService(WithLogger(quietLogger()), WithJobs(jobs))
	svc.RegisterHandler("test.slow", func(ctx context.Context, job *models.ScheduledJob) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return nil
	})
	require.NoError(t, svc.RunNow(context.Background(), "slow"))
}

func TestStartRejectsBadJobs(t *testing.T) {
	t.Run("unknown handler", func(t *testing.T) {
		jobs := []*models.ScheduledJob{{Slug: "x", Handler: "missing", Schedule: "@daily"}}
		svc := NewService(WithLogger(quietLogger()), WithJobs(jobs))
		assert.Error(t, svc.Start(context.Background()))
	})
	t.Run("invalid schedule", func(t *testing.T) {
		jobs := ApplySchedules(DefaultJobs(), map[string]string{DailySyncSlug: "not a cron"})
		svc := NewService(WithLogger(quietLogger()), WithJobs(jobs))
		assert.Error(t, svc.Start(context.Background()))
	})
}

func TestStartSchedulesNothingWhenAnyJobIsInvalid(t *testing.T) {
	cronEngine := cron.New(cron.WithLocation(time.UTC))
	jobs := []*models.ScheduledJob{
		{Slug: "a-good", Handler: HandlerSyncAll, Schedule: "@hourly"},
		{Slug: "b-good", Handler: HandlerSyncAll, Schedule: "@daily"},
		{Slug: "c-bad", Handler: HandlerSyncAll, Schedule: "61 * * * *"},
	}
	svc := NewService(WithLogger(quietLogger()), WithJobs(jobs), WithCron(cronEngine))

	require.Error(t, svc.Start(context.Background()))
	assert.Empty(t, cronEngine.Entries())
	for _, job := range svc.Jobs() {
		assert.Nil(t, job.NextRunAt, job.Slug)
	}
}

func TestStartRestoresStoredRunStatus(t *testing.T) {
	last := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	store := &memoryStatus{jobs: map[string]models.ScheduledJob{
		DailySyncSlug: {Slug: DailySyncSlug, LastRunAt: &last, LastError: "sync failed for 1 of 2 project(s)"},
		"retired":     {Slug: "retired", LastRunAt: &last},
	}}
	svc := NewService(WithLogger(quietLogger()), WithStatusStore(store), WithCron(cron.New(cron.WithLocation(time.UTC))))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRunAt)
	assert.True(t, last.Equal(*jobs[0].LastRunAt))
	assert.Equal(t, "sync failed for 1 of 2 project(s)", jobs[0].LastError)
}

type failingStatus struct{ memoryStatus }

func (*failingStatus) Load(context.Context) (map[string]models.ScheduledJob, error) {
	return nil, errors.New("connection refused")
}

func TestStartIgnoresStatusStoreErrors(t *testing.T) {
	svc := NewService(WithLogger(quietLogger()), WithStatusStore(&failingStatus{}), WithCron(cron.New(cron.WithLocation(time.UTC))))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	assert.Nil(t, svc.Jobs()[0].LastRunAt)
}

func TestStartSchedulesAndStops(t *testing.T) {
	cronEngine := cron.New(cron.WithLocation(time.UTC))
	svc := NewService(WithLogger(quietLogger()), WithCron(cronEngine))
	require.NoError(t, svc.Start(context.Background()))

	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].NextRunAt)
	assert.Equal(t, 6, jobs[0].NextRunAt.UTC().Hour())
	assert.Zero(t, jobs[0].NextRunAt.Minute())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
}

func TestApplySchedules(t *testing.T) {
	jobs := ApplySchedules(DefaultJobs(), map[string]string{DailySyncSlug: "30 5 * * *", "other": "@hourly"})
	assert.Equal(t, "30 5 * * *", jobs[0].Schedule)

	jobs = ApplySchedules(DefaultJobs(), map[string]string{DailySyncSlug: "  "})
	assert.Equal(t, "0 6 * * *", jobs[0].Schedule)
}

func TestIntFromConfig(t *testing.T) {
	cfg := map[string]any{"a": float64(3), "b": "7", "c": "x"}
	assert.Equal(t, 3, intFromConfig(cfg, "a", 0))
	assert.Equal(t, 7, intFromConfig(cfg, "b", 0))
	assert.Equal(t, 9, intFromConfig(cfg, "c", 9))
	assert.Equal(t, 1, intFromConfig(nil, "a", 1))
}

func TestSweepErrorMessage(t *testing.T) {
	err := error(&SweepError{Failed: 1, Projects: 4})
	assert.True(t, errors.As(err, new(*SweepError)))
	assert.Contains(t, err.Error(), "1 of 4")
}
