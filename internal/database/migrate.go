package database

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migration is one versioned schema step. Files are keyed by driver.
type Migration struct {
	Version int
	Name    string
	Files   map[string]string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial schema",
		Files: map[string]string{
			DriverSQLite:   "schema/sqlite.sql",
			DriverPostgres: "schema/postgres.sql",
			DriverMySQL:    "schema/mysql.sql",
		},
	},
}

// Migrate applies every migration not yet recorded in schema_migrations.
// It returns the versions it applied.
func Migrate(ctx context.Context, db *sqlx.DB) ([]int, error) {
	driver := GetDBDriver()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name VARCHAR(200) NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	var applied []int
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		file, ok := m.Files[driver]
		if !ok {
			return applied, fmt.Errorf("migration %d has no %s variant", m.Version, driver)
		}
		body, err := schemaFS.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", file, err)
		}

		err = WithTx(ctx, db, func(tx *sqlx.Tx) error {
			for _, stmt := range SplitStatements(string(body)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d: %w", m.Version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				ConvertPlaceholders("INSERT INTO schema_migrations (version, name) VALUES (?, ?)"),
				m.Version, m.Name)
			return err
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// SplitStatements breaks a schema file into individual statements.
// The schema files contain no procedural blocks, so splitting on ';' is safe.
func SplitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// InsertReturningID executes an INSERT and returns the generated id.
// Postgres lacks LastInsertId so RETURNING is appended there.
func InsertReturningID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	query = ConvertPlaceholders(query)
	if IsPostgreSQL() {
		var id int64
		if err := ext.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
