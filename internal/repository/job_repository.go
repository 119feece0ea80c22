package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/ticketforge/internal/database"
	"github.com/goatkit/ticketforge/internal/models"
)

// JobRepository defines the persistence operations for jobs.
type JobRepository interface {
	CreateBatch(ctx context.Context, ticketID, projectID int64, drafts []models.JobDraft) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]*models.Job, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Job, error)
	Update(ctx context.Context, id int64, title, tasks string) error
	MarkFinished(ctx context.Context, id int64, prID string, finishedAt time.Time) (bool, error)
	MarkVerified(ctx context.Context, id int64, verifiedAt time.Time) error
}

// JobSQLRepository implements JobRepository on sqlx.
type JobSQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobSQLRepository {
	return &JobSQLRepository{db: db, now: time.Now}
}

const jobColumns = `id, ticket_id, project_id, title, tasks, pr_id, finished_at, verified_at, create_time`

// CreateBatch inserts all drafts in one transaction and returns their ids in order.
func (r *JobSQLRepository) CreateBatch(ctx context.Context, ticketID, projectID int64, drafts []models.JobDraft) ([]int64, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(drafts))
	now := r.now().UTC()
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i, d := range drafts {
			id, err := database.InsertReturningID(ctx, tx, `
				INSERT INTO jobs (ticket_id, project_id, title, tasks, create_time)
				VALUES (?, ?, ?, ?, ?)`,
				ticketID, projectID, d.Title, d.Tasks, now)
			if err != nil {
				return fmt.Errorf("insert job %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs: %w", err)
	}
	return ids, nil
}

// GetByID retrieves a job by its ID.
func (r *JobSQLRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	var j models.Job
	query := database.ConvertPlaceholders(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	if err := r.db.GetContext(ctx, &j, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// ListByTicket returns the ticket's jobs in creation order.
func (r *JobSQLRepository) ListByTicket(ctx context.Context, ticketID int64) ([]*models.Job, error) {
	var jobs []*models.Job
	query := database.ConvertPlaceholders(`SELECT ` + jobColumns + ` FROM jobs WHERE ticket_id = ? ORDER BY id`)
	if err := r.db.SelectContext(ctx, &jobs, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListByProject returns the project's jobs in creation order.
func (r *JobSQLRepository) ListByProject(ctx context.Context, projectID int64) ([]*models.Job, error) {
	var jobs []*models.Job
	query := database.ConvertPlaceholders(`SELECT ` + jobColumns + ` FROM jobs WHERE project_id = ? ORDER BY id`)
	if err := r.db.SelectContext(ctx, &jobs, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Update edits the title and tasks of a job.
func (r *JobSQLRepository) Update(ctx context.Context, id int64, title, tasks string) error {
	query := database.ConvertPlaceholders(`UPDATE jobs SET title = ?, tasks = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, title, tasks, id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkFinished records the change request id and finish time in one write.
// A job that is already complete keeps its first values; applied is false then.
func (r *JobSQLRepository) MarkFinished(ctx context.Context, id int64, prID string, finishedAt time.Time) (bool, error) {
	query := database.ConvertPlaceholders(`
		UPDATE jobs
		SET pr_id = ?, finished_at = ?
		WHERE id = ? AND (pr_id IS NULL OR pr_id = '' OR finished_at IS NULL)`)
	res, err := r.db.ExecContext(ctx, query, prID, finishedAt.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkVerified stamps the verification time.
func (r *JobSQLRepository) MarkVerified(ctx context.Context, id int64, verifiedAt time.Time) error {
	query := database.ConvertPlaceholders(`UPDATE jobs SET verified_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, verifiedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to verify job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}
