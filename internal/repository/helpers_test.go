package repository

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/testing/dbtest"
)

func newTestDB(t *testing.T) *sqlx.DB {
	return dbtest.Open(t)
}

func seedProject(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	id, err := NewProjectRepository(db).Create(context.Background(), &models.Project{Name: name})
	require.NoError(t, err)
	return id
}
