package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/ticketforge/internal/database"
	"github.com/goatkit/ticketforge/internal/models"
)

// UpsertAction is what Upsert did with an external ticket.
type UpsertAction string

const (
	UpsertAdded     UpsertAction = "added"
	UpsertUpdated   UpsertAction = "updated"
	UpsertUnchanged UpsertAction = "unchanged"
)

// UpsertResult reports the ticket touched by Upsert.
type UpsertResult struct {
	TicketID int64
	Action   UpsertAction
}

// TicketRepository defines the persistence operations for tickets.
type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	GetByExternalID(ctx context.Context, projectID int64, externalID string) (*models.Ticket, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Ticket, error)
	Upsert(ctx context.Context, projectID int64, ext models.ExternalTicket) (*UpsertResult, error)
	SetVerdict(ctx context.Context, id int64, verdict models.Verdict, reason string, creatingJobs bool) error
	SetCreatingJobs(ctx context.Context, id int64, creating bool) error
	Delete(ctx context.Context, id int64) error
}

// TicketSQLRepository implements TicketRepository on sqlx.
type TicketSQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewTicketRepository creates a new ticket repository.
func NewTicketRepository(db *sqlx.DB) *TicketSQLRepository {
	return &TicketSQLRepository{db: db, now: time.Now}
}

const ticketColumns = `id, project_id, external_id, title, description, verdict,
		verdict_reason, creating_jobs, create_time, change_time`

// GetByID retrieves a ticket by its ID.
func (r *TicketSQLRepository) GetByID(ctx context.Context, id int64) (*models.Ticket, error) {
	var t models.Ticket
	query := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`)
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &t, nil
}

// GetByExternalID retrieves a ticket by its tracker id within a project.
func (r *TicketSQLRepository) GetByExternalID(ctx context.Context, projectID int64, externalID string) (*models.Ticket, error) {
	return getByExternalID(ctx, r.db, projectID, externalID)
}

func getByExternalID(ctx context.Context, q sqlx.QueryerContext, projectID int64, externalID string) (*models.Ticket, error) {
	var t models.Ticket
	query := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets
		WHERE project_id = ? AND external_id = ?`)
	if err := sqlx.GetContext(ctx, q, &t, query, projectID, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &t, nil
}

// ListByProject returns the project's tickets ordered by external id,
// numerically descending. Non-numeric ids sort after numeric ones.
func (r *TicketSQLRepository) ListByProject(ctx context.Context, projectID int64) ([]*models.Ticket, error) {
	query := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets WHERE project_id = ?`)
	var tickets []*models.Ticket
	if err := r.db.SelectContext(ctx, &tickets, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	SortByExternalIDDesc(tickets)
	return tickets, nil
}

// SortByExternalIDDesc orders tickets by numeric external id, highest first.
func SortByExternalIDDesc(tickets []*models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, errA := strconv.ParseInt(tickets[i].ExternalID, 10, 64)
		b, errB := strconv.ParseInt(tickets[j].ExternalID, 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a > b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return tickets[i].ExternalID > tickets[j].ExternalID
		}
	})
}

// Upsert inserts or refreshes one external ticket inside a single transaction.
// Changed content resets the verdict so the ticket is assessed again.
// A concurrent insert of the same key is retried once as an update.
func (r *TicketSQLRepository) Upsert(ctx context.Context, projectID int64, ext models.ExternalTicket) (*UpsertResult, error) {
	res, err := r.upsertOnce(ctx, projectID, ext)
	if err != nil && database.IsUniqueViolation(err) {
		res, err = r.upsertOnce(ctx, projectID, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert ticket %s: %w", ext.ExternalID, err)
	}
	return res, nil
}

func (r *TicketSQLRepository) upsertOnce(ctx context.Context, projectID int64, ext models.ExternalTicket) (*UpsertResult, error) {
	var result *UpsertResult
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		existing, err := getByExternalID(ctx, tx, projectID, ext.ExternalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		now := r.now().UTC()

		if existing == nil {
			id, err := database.InsertReturningID(ctx, tx, `
				INSERT INTO tickets (project_id, external_id, title, description, verdict,
					verdict_reason, creating_jobs, create_time, change_time)
				VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
				projectID, ext.ExternalID, ext.Title, ext.Description, string(models.VerdictUnset),
				false, now, now)
			if err != nil {
				return err
			}
			result = &UpsertResult{TicketID: id, Action: UpsertAdded}
			return nil
		}

		if existing.ContentEquals(ext.Title, ext.Description) {
			result = &UpsertResult{TicketID: existing.ID, Action: UpsertUnchanged}
			return nil
		}

		query := database.ConvertPlaceholders(`
			UPDATE tickets
			SET title = ?, description = ?, verdict = ?, verdict_reason = NULL, change_time = ?
			WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, ext.Title, ext.Description,
			string(models.VerdictUnset), now, existing.ID); err != nil {
			return err
		}
		result = &UpsertResult{TicketID: existing.ID, Action: UpsertUpdated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetVerdict records the classifier verdict and the job creation flag in one write.
func (r *TicketSQLRepository) SetVerdict(ctx context.Context, id int64, verdict models.Verdict, reason string, creatingJobs bool) error {
	if !verdict.Valid() || verdict == models.VerdictUnset {
		return fmt.Errorf("invalid verdict %q", verdict)
	}
	query := database.ConvertPlaceholders(`
		UPDATE tickets
		SET verdict = ?, verdict_reason = ?, creating_jobs = ?, change_time = ?
		WHERE id = ?`)
	return r.execOne(ctx, id, query, string(verdict), reason, creatingJobs, r.now().UTC(), id)
}

// SetCreatingJobs toggles the job creation flag.
func (r *TicketSQLRepository) SetCreatingJobs(ctx context.Context, id int64, creating bool) error {
	query := database.ConvertPlaceholders(`UPDATE tickets SET creating_jobs = ?, change_time = ? WHERE id = ?`)
	return r.execOne(ctx, id, query, creating, r.now().UTC(), id)
}

// Delete removes a ticket and its jobs in one transaction.
func (r *TicketSQLRepository) Delete(ctx context.Context, id int64) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, database.ConvertPlaceholders(`DELETE FROM jobs WHERE ticket_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
		res, err := tx.ExecContext(ctx, database.ConvertPlaceholders(`DELETE FROM tickets WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete ticket: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r *TicketSQLRepository) execOne(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return nil
}
