package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/models"
)

func TestJobCreateBatchAndList(t *testing.T) {
	db := newTestDB(t)
	tickets := NewTicketRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	res, err := tickets.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "1"})
	require.NoError(t, err)

	ids, err := jobs.CreateBatch(ctx, res.TicketID, projectID, []models.JobDraft{
		{Title: "X", Tasks: "x"},
		{Title: "Y", Tasks: "y"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	list, err := jobs.ListByTicket(ctx, res.TicketID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "X", list[0].Title)
	assert.Equal(t, "Y", list[1].Title)
	assert.False(t, list[0].Complete())

	byProject, err := jobs.ListByProject(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	empty, err := jobs.CreateBatch(ctx, res.TicketID, projectID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestJobCreateBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	// ticket 404 does not exist so the foreign key rejects the batch
	_, err := jobs.CreateBatch(ctx, 404, projectID, []models.JobDraft{{Title: "a", Tasks: "b"}})
	require.Error(t, err)

	list, err := jobs.ListByProject(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestJobMarkFinishedFirstWins(t *testing.T) {
	db := newTestDB(t)
	tickets := NewTicketRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	res, err := tickets.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "1"})
	require.NoError(t, err)
	ids, err := jobs.CreateBatch(ctx, res.TicketID, projectID, []models.JobDraft{{Title: "a", Tasks: "b"}})
	require.NoError(t, err)

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	applied, err := jobs.MarkFinished(ctx, ids[0], "PR-1", first)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = jobs.MarkFinished(ctx, ids[0], "PR-2", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	job, err := jobs.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, job.Complete())
	assert.Equal(t, "PR-1", job.PRID.String)
	assert.True(t, first.Equal(job.FinishedAt.Time))

	_, err = jobs.MarkFinished(ctx, 999, "PR-3", first)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobUpdateAndVerify(t *testing.T) {
	db := newTestDB(t)
	tickets := NewTicketRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	res, err := tickets.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "1"})
	require.NoError(t, err)
	ids, err := jobs.CreateBatch(ctx, res.TicketID, projectID, []models.JobDraft{{Title: "a", Tasks: "b"}})
	require.NoError(t, err)

	require.NoError(t, jobs.Update(ctx, ids[0], "renamed", "new tasks"))
	require.NoError(t, jobs.MarkVerified(ctx, ids[0], time.Now()))

	job, err := jobs.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "renamed", job.Title)
	assert.Equal(t, "new tasks", job.Tasks)
	assert.True(t, job.VerifiedAt.Valid)

	assert.ErrorIs(t, jobs.Update(ctx, 999, "x", "y"), ErrNotFound)
	assert.ErrorIs(t, jobs.MarkVerified(ctx, 999, time.Now()), ErrNotFound)
}
