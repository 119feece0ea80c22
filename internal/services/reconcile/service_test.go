package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/repository"
	"github.com/goatkit/ticketforge/internal/testing/dbtest"
	"github.com/goatkit/ticketforge/internal/tracker"
)

type statusPost struct {
	TicketID     string `json:"ticketId"`
	TicketStatus string `json:"ticketStatus"`
}

// trackerServer records status POSTs and answers with status.
type trackerServer struct {
	mu     sync.Mutex
	posts  []statusPost
	status int
	*httptest.Server
}

func newTrackerServer(t *testing.T) *trackerServer {
	t.Helper()
	ts := &trackerServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p statusPost
		_ = json.NewDecoder(r.Body).Decode(&p)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.posts = append(ts.posts, p)
		w.WriteHeader(ts.status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *trackerServer) received() []statusPost {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]statusPost(nil), ts.posts...)
}

type fixture struct {
	projects *repository.ProjectSQLRepository
	tickets  *repository.TicketSQLRepository
	jobs     *repository.JobSQLRepository
	rec      *dispatch.Recorder
	registry *dispatch.Registry
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		projects: repository.NewProjectRepository(db),
		tickets:  repository.NewTicketRepository(db),
		jobs:     repository.NewJobRepository(db),
		rec:      dispatch.NewRecorder(),
		registry: dispatch.NewRegistry(),
	}
	quiet := log.New(io.Discard, "", 0)
	f.svc = NewService(f.tickets, f.jobs, f.projects, tracker.NewClient(tracker.WithLogger(quiet)), f.rec, WithLogger(quiet))
	f.registry.RegisterHandler(dispatch.KindReconcileTicket, f.svc.HandleReconcileTask)
	f.registry.RegisterHandler(dispatch.KindTrackerNotify, f.svc.HandleNotifyTask)
	return f
}

// seed creates a project (with trackerURL when set), one ticket and n jobs.
func (f *fixture) seed(t *testing.T, trackerURL string, n int) (*models.Ticket, []int64) {
	t.Helper()
	ctx := context.Background()
	projectID, err := f.projects.Create(ctx, &models.Project{Name: "web"})
	require.NoError(t, err)
	if trackerURL != "" {
		require.NoError(t, f.projects.UpsertCredentials(ctx, &models.Credentials{ProjectID: projectID, TrackerSourceURL: trackerURL}))
	}
	res, err := f.tickets.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "T-1", Title: "t"})
	require.NoError(t, err)
	drafts := make([]models.JobDraft, n)
	for i := range drafts {
		drafts[i] = models.JobDraft{Title: "job", Tasks: "tasks"}
	}
	ids, err := f.jobs.CreateBatch(ctx, res.TicketID, projectID, drafts)
	require.NoError(t, err)
	ticket, err := f.tickets.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	return ticket, ids
}

func TestStatusPostedOnlyWhenAllJobsComplete(t *testing.T) {
	f := newFixture(t)
	ts := newTrackerServer(t)
	_, jobIDs := f.seed(t, ts.URL, 2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.svc.OnJobFinished(ctx, jobIDs[0], "101", now))
	assert.Len(t, f.rec.OfKind(dispatch.KindReconcileTicket), 1)
	assert.Empty(t, f.rec.Drain(ctx, f.registry))
	assert.Empty(t, ts.received())

	require.NoError(t, f.svc.OnJobFinished(ctx, jobIDs[1], "102", now))
	assert.Empty(t, f.rec.Drain(ctx, f.registry))
	assert.Equal(t, []statusPost{{TicketID: "T-1", TicketStatus: "41"}}, ts.received())
}

func TestOnJobFinishedValidates(t *testing.T) {
	f := newFixture(t)
	_, jobIDs := f.seed(t, "", 1)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.OnJobFinished(ctx, jobIDs[0], " ", time.Now()), ErrInvalidCompletion)
	assert.ErrorIs(t, f.svc.OnJobFinished(ctx, jobIDs[0], "1", time.Time{}), ErrInvalidCompletion)
	assert.ErrorIs(t, f.svc.OnJobFinished(ctx, 9999, "1", time.Now()), repository.ErrNotFound)
	assert.Empty(t, f.rec.Tasks())
}

func TestOnJobFinishedFirstCompletionWins(t *testing.T) {
	f := newFixture(t)
	_, jobIDs := f.seed(t, "", 1)
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, f.svc.OnJobFinished(ctx, jobIDs[0], "7", first))
	require.NoError(t, f.svc.OnJobFinished(ctx, jobIDs[0], "8", first.Add(time.Hour)))

	job, err := f.jobs.GetByID(ctx, jobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "7", job.PRID.String)
	assert.True(t, job.FinishedAt.Time.Equal(first))
	assert.Len(t, f.rec.OfKind(dispatch.KindReconcileTicket), 1)
}

func TestCheckAndReconcileOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("missing ticket", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CheckAndReconcile(ctx, 404)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("no jobs", func(t *testing.T) {
		f := newFixture(t)
		ticket, _ := f.seed(t, "http://unused.invalid", 0)
		out, err := f.svc.CheckAndReconcile(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, Outcome{Status: StatusSkipped, Reason: ReasonNoJobs}, *out)
	})

	t.Run("incomplete", func(t *testing.T) {
		f := newFixture(t)
		ticket, ids := f.seed(t, "http://unused.invalid", 2)
		_, err := f.jobs.MarkFinished(ctx, ids[0], "1", time.Now())
		require.NoError(t, err)
		out, err := f.svc.CheckAndReconcile(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, Outcome{Status: StatusSkipped, Reason: ReasonIncomplete}, *out)
	})

	t.Run("no tracker url", func(t *testing.T) {
		f := newFixture(t)
		ticket, ids := f.seed(t, "", 1)
		_, err := f.jobs.MarkFinished(ctx, ids[0], "1", time.Now())
		require.NoError(t, err)
		out, err := f.svc.CheckAndReconcile(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, Outcome{Status: StatusSkipped, Reason: ReasonNoTracker}, *out)
	})

	t.Run("tracker rejects", func(t *testing.T) {
		f := newFixture(t)
		ts := newTrackerServer(t)
		ts.status = http.StatusInternalServerError
		ticket, ids := f.seed(t, ts.URL, 1)
		_, err := f.jobs.MarkFinished(ctx, ids[0], "1", time.Now())
		require.NoError(t, err)

		out, err := f.svc.CheckAndReconcile(ctx, ticket.ID)
		var statusErr *tracker.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Len(t, ts.received(), 1)

		job, err := f.jobs.GetByID(ctx, ids[0])
		require.NoError(t, err)
		assert.True(t, job.Complete())
	})
}

func TestJobAddedAfterCompletionBlocksNextReconcile(t *testing.T) {
	f := newFixture(t)
	ts := newTrackerServer(t)
	ticket, ids := f.seed(t, ts.URL, 1)
	ctx := context.Background()

	_, err := f.jobs.MarkFinished(ctx, ids[0], "1", time.Now())
	require.NoError(t, err)
	out, err := f.svc.CheckAndReconcile(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSynced, out.Status)
	require.Len(t, ts.received(), 1)

	_, err = f.jobs.CreateBatch(ctx, ticket.ID, ticket.ProjectID, []models.JobDraft{{Title: "follow-up", Tasks: "more"}})
	require.NoError(t, err)

	out, err = f.svc.CheckAndReconcile(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: StatusSkipped, Reason: ReasonIncomplete}, *out)
	assert.Len(t, ts.received(), 1)
}

func TestNotifyRejection(t *testing.T) {
	f := newFixture(t)
	ts := newTrackerServer(t)
	ticket, _ := f.seed(t, ts.URL, 0)
	ctx := context.Background()

	require.NoError(t, dispatch.Submit(ctx, f.rec, dispatch.KindTrackerNotify, dispatch.NotifyPayload{TicketID: ticket.ID, Status: "42"}))
	assert.Empty(t, f.rec.Drain(ctx, f.registry))
	assert.Equal(t, []statusPost{{TicketID: "T-1", TicketStatus: "42"}}, ts.received())
}

func TestNotifyWithoutTrackerIsSkipped(t *testing.T) {
	f := newFixture(t)
	ticket, _ := f.seed(t, "", 0)
	assert.NoError(t, f.svc.Notify(context.Background(), ticket.ID, tracker.StatusRejected))
}
