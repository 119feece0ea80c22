package ticketsync

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/repository"
	"github.com/goatkit/ticketforge/internal/testing/dbtest"
	"github.com/goatkit/ticketforge/internal/tracker"
)

// exportServer serves a mutable tracker export body.
type exportServer struct {
	mu     sync.Mutex
	body   string
	status int
	*httptest.Server
}

func newExportServer(t *testing.T, body string) *exportServer {
	t.Helper()
	es := &exportServer{body: body, status: http.StatusOK}
	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.mu.Lock()
		defer es.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(es.status)
		_, _ = io.WriteString(w, es.body)
	}))
	t.Cleanup(es.Close)
	return es
}

func (es *exportServer) set(status int, body string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.status, es.body = status, body
}

type fixture struct {
	db       *sqlx.DB
	projects *repository.ProjectSQLRepository
	tickets  *repository.TicketSQLRepository
	rec      *dispatch.Recorder
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:       db,
		projects: repository.NewProjectRepository(db),
		tickets:  repository.NewTicketRepository(db),
		rec:      dispatch.NewRecorder(),
	}
	quiet := log.New(io.Discard, "", 0)
	f.svc = NewService(f.projects, f.tickets, tracker.NewClient(tracker.WithLogger(quiet)), f.rec, WithLogger(quiet))
	return f
}

func (f *fixture) project(t *testing.T, name, url string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.projects.Create(ctx, &models.Project{Name: name})
	require.NoError(t, err)
	if url != "" {
		require.NoError(t, f.projects.UpsertCredentials(ctx, &models.Credentials{ProjectID: id, TrackerSourceURL: url}))
	}
	return id
}

func TestSyncNumericIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `[{"jiraId":10,"jiraTitle":"T"}]`)
	projectID := f.project(t, "web", es.URL)
	ctx := context.Background()

	res, err := f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 1, Total: 1}, *res)

	ticket, err := f.tickets.GetByExternalID(ctx, projectID, "10")
	require.NoError(t, err)
	assert.Equal(t, "T", ticket.Title)
	assert.Equal(t, "", ticket.Description)
	assert.False(t, ticket.Reviewed())

	tasks := f.rec.OfKind(dispatch.KindAssessTicket)
	require.Len(t, tasks, 1)
	var p dispatch.TicketPayload
	require.NoError(t, tasks[0].Decode(&p))
	assert.Equal(t, ticket.ID, p.TicketID)

	f.rec.Reset()
	res, err = f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Total: 1}, *res)
	assert.Empty(t, f.rec.Tasks())

	var count int
	require.NoError(t, f.db.Get(&count, `SELECT COUNT(*) FROM tickets`))
	assert.Equal(t, 1, count)
}

func TestSyncChangedTicketResetsVerdict(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `[{"jiraId":"A-1","jiraTitle":"Old","jiraDescription":"d"}]`)
	projectID := f.project(t, "web", es.URL)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	ticket, err := f.tickets.GetByExternalID(ctx, projectID, "A-1")
	require.NoError(t, err)
	require.NoError(t, f.tickets.SetVerdict(ctx, ticket.ID, models.VerdictRejected, "vague", false))

	f.rec.Reset()
	es.set(http.StatusOK, `[{"jiraId":"A-1","jiraTitle":"New","jiraDescription":"d"}]`)
	res, err := f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1, Total: 1}, *res)

	ticket, err = f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", ticket.Title)
	assert.False(t, ticket.Reviewed())
	assert.Equal(t, "", ticket.Reason())
	assert.Len(t, f.rec.OfKind(dispatch.KindAssessTicket), 1)
}

func TestSyncWithoutSource(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, "no-source", "")

	res, err := f.svc.Sync(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, *res)
	assert.Empty(t, f.rec.Tasks())
}

func TestSyncSourceError(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `{"error":"down"}`)
	es.set(http.StatusBadGateway, `{"error":"down"}`)
	projectID := f.project(t, "web", es.URL)

	_, err := f.svc.Sync(context.Background(), projectID)
	var statusErr *tracker.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Empty(t, f.rec.Tasks())
}

func TestSyncSkipsMalformedItems(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `[1, "x", {"jiraTitle":"no id"}, {"jiraId":""}, {"jiraId":"7","jiraTitle":"ok","extra":true}]`)
	projectID := f.project(t, "web", es.URL)

	res, err := f.svc.Sync(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 1, Total: 1}, *res)
}

func TestSyncNormalizesText(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `[{"jiraId":"5","jiraTitle":"  <b>Café</b> & co ","jiraDescription":"<p>Line</p>"}]`)
	projectID := f.project(t, "web", es.URL)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	ticket, err := f.tickets.GetByExternalID(ctx, projectID, "5")
	require.NoError(t, err)
	assert.Equal(t, "Café & co", ticket.Title)
	assert.Equal(t, "Line", ticket.Description)

	f.rec.Reset()
	res, err := f.svc.Sync(ctx, projectID)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}

func TestSyncDispatchFailureDoesNotFailSync(t *testing.T) {
	f := newFixture(t)
	es := newExportServer(t, `[{"jiraId":"1"},{"jiraId":"2"}]`)
	projectID := f.project(t, "web", es.URL)
	f.rec.Err = dispatch.ErrQueueFull

	res, err := f.svc.Sync(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	good := newExportServer(t, `[{"jiraId":"1","jiraTitle":"a"},{"jiraId":"2","jiraTitle":"b"}]`)
	bad := newExportServer(t, ``)
	bad.set(http.StatusInternalServerError, `boom`)

	goodID := f.project(t, "good", good.URL)
	badID := f.project(t, "bad", bad.URL)
	f.project(t, "none", "")

	sweep, err := f.svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Projects)
	assert.Equal(t, 2, sweep.TotalAdded)
	assert.Equal(t, 0, sweep.TotalUpdated)
	assert.Equal(t, 2, sweep.TotalSeen)
	require.Len(t, sweep.Failed, 1)
	assert.Equal(t, badID, sweep.Failed[0].ProjectID)

	tickets, err := f.tickets.ListByProject(context.Background(), goodID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
	assert.Len(t, f.rec.OfKind(dispatch.KindAssessTicket), 2)
}
