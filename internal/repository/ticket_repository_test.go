package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/database"
	"github.com/goatkit/ticketforge/internal/models"
)

func TestTicketUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	ext := models.ExternalTicket{ExternalID: "10", Title: "A", Description: "B"}

	t.Run("insert", func(t *testing.T) {
		res, err := repo.Upsert(ctx, projectID, ext)
		require.NoError(t, err)
		assert.Equal(t, UpsertAdded, res.Action)

		got, err := repo.GetByExternalID(ctx, projectID, "10")
		require.NoError(t, err)
		assert.Equal(t, res.TicketID, got.ID)
		assert.Equal(t, models.VerdictUnset, got.Verdict)
		assert.False(t, got.VerdictReason.Valid)
		assert.False(t, got.CreatingJobs)
	})

	t.Run("unchanged", func(t *testing.T) {
		res, err := repo.Upsert(ctx, projectID, ext)
		require.NoError(t, err)
		assert.Equal(t, UpsertUnchanged, res.Action)
	})

	t.Run("changed resets verdict", func(t *testing.T) {
		got, err := repo.GetByExternalID(ctx, projectID, "10")
		require.NoError(t, err)
		require.NoError(t, repo.SetVerdict(ctx, got.ID, models.VerdictRejected, "too vague", false))

		res, err := repo.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "10", Title: "A2", Description: "B"})
		require.NoError(t, err)
		assert.Equal(t, UpsertUpdated, res.Action)
		assert.Equal(t, got.ID, res.TicketID)

		got, err = repo.GetByID(ctx, got.ID)
		require.NoError(t, err)
		assert.Equal(t, "A2", got.Title)
		assert.Equal(t, models.VerdictUnset, got.Verdict)
		assert.Empty(t, got.Reason())
	})

	t.Run("same external id in another project", func(t *testing.T) {
		other := seedProject(t, db, "beta")
		res, err := repo.Upsert(ctx, other, ext)
		require.NoError(t, err)
		assert.Equal(t, UpsertAdded, res.Action)
	})
}

func TestTicketVerdictAndFlag(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	res, err := repo.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "1", Title: "t"})
	require.NoError(t, err)

	require.NoError(t, repo.SetVerdict(ctx, res.TicketID, models.VerdictAccepted, "clear", true))
	got, err := repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.True(t, got.Accepted())
	assert.True(t, got.CreatingJobs)
	assert.Equal(t, "clear", got.Reason())

	require.NoError(t, repo.SetCreatingJobs(ctx, res.TicketID, false))
	got, err = repo.GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.False(t, got.CreatingJobs)

	assert.Error(t, repo.SetVerdict(ctx, res.TicketID, models.VerdictUnset, "", false))
	assert.ErrorIs(t, repo.SetCreatingJobs(ctx, 9999, true), ErrNotFound)
}

func TestTicketDeleteCascades(t *testing.T) {
	db := newTestDB(t)
	tickets := NewTicketRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	res, err := tickets.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: "5", Title: "t"})
	require.NoError(t, err)
	_, err = jobs.CreateBatch(ctx, res.TicketID, projectID, []models.JobDraft{{Title: "a", Tasks: "b"}, {Title: "c", Tasks: "d"}})
	require.NoError(t, err)

	require.NoError(t, tickets.Delete(ctx, res.TicketID))

	_, err = tickets.GetByID(ctx, res.TicketID)
	assert.ErrorIs(t, err, ErrNotFound)
	remaining, err := jobs.ListByTicket(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.ErrorIs(t, tickets.Delete(ctx, res.TicketID), ErrNotFound)
}

func TestTicketListSortsNumericDesc(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()
	projectID := seedProject(t, db, "alpha")

	for _, id := range []string{"9", "100", "abc", "25"} {
		_, err := repo.Upsert(ctx, projectID, models.ExternalTicket{ExternalID: id})
		require.NoError(t, err)
	}

	list, err := repo.ListByProject(ctx, projectID)
	require.NoError(t, err)
	var ids []string
	for _, tk := range list {
		ids = append(ids, tk.ExternalID)
	}
	assert.Equal(t, []string{"100", "25", "9", "abc"}, ids)
}

func TestTicketGetByIDQuery(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	database.SetDriver(database.DriverPostgres)
	t.Cleanup(func() { database.SetDriver("") })

	repo := NewTicketRepository(sqlx.NewDb(mockDB, "postgres"))
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "project_id", "external_id", "title", "description",
		"verdict", "verdict_reason", "creating_jobs", "create_time", "change_time"}).
		AddRow(int64(7), int64(1), "10", "A", "B", "accepted", "ok", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "10", got.ExternalID)
	assert.True(t, got.Accepted())
	assert.True(t, got.CreatingJobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketGetByIDNotFound(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewTicketRepository(sqlx.NewDb(mockDB, "sqlite3"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
