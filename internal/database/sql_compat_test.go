package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertPlaceholders(t *testing.T) {
	t.Cleanup(func() { SetDriver("") })

	SetDriver("postgres")
	assert.Equal(t, "SELECT * FROM tickets WHERE project_id = $1 AND external_id = $2",
		ConvertPlaceholders("SELECT * FROM tickets WHERE project_id = ? AND external_id = ?"))

	SetDriver("mysql")
	assert.Equal(t, "SELECT 1 WHERE a = ?", ConvertPlaceholders("SELECT 1 WHERE a = ?"))

	SetDriver("sqlite")
	assert.Equal(t, "SELECT 1 WHERE a = ?", ConvertPlaceholders("SELECT 1 WHERE a = ?"))
}

func TestConvertPlaceholdersRejectsDollar(t *testing.T) {
	assert.Panics(t, func() { ConvertPlaceholders("SELECT * FROM jobs WHERE id = $1") })
}

func TestGetDBDriverNormalizes(t *testing.T) {
	t.Cleanup(func() { SetDriver("") })

	SetDriver("PostgreSQL")
	assert.Equal(t, DriverPostgres, GetDBDriver())
	assert.True(t, IsPostgreSQL())

	SetDriver("mariadb")
	assert.True(t, IsMySQL())

	SetDriver("")
	t.Setenv("TEST_DB_DRIVER", "")
	t.Setenv("DB_DRIVER", "")
	assert.Equal(t, DriverSQLite, GetDBDriver())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: tickets.project_id, tickets.external_id")))
	assert.True(t, IsUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "tickets_project_external"`)))
	assert.True(t, IsUniqueViolation(errors.New("Error 1062: Duplicate entry '1-10' for key")))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))
	assert.False(t, IsUniqueViolation(nil))
}
