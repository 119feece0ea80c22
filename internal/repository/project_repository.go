package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/ticketforge/internal/database"
	"github.com/goatkit/ticketforge/internal/models"
)

// ProjectRepository defines the persistence operations for projects and their credentials.
type ProjectRepository interface {
	Create(ctx context.Context, p *models.Project) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
	AddMember(ctx context.Context, projectID int64, userID, role string) error
	GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error)
	UpsertCredentials(ctx context.Context, c *models.Credentials) error
	ListTrackerSources(ctx context.Context) ([]*models.Credentials, error)
}

// Sealer encrypts secret credential fields at rest.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(value string) (string, error)
}

// ProjectSQLRepository implements ProjectRepository on sqlx.
type ProjectSQLRepository struct {
	db     *sqlx.DB
	now    func() time.Time
	sealer Sealer
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *sqlx.DB) *ProjectSQLRepository {
	return &ProjectSQLRepository{db: db, now: time.Now}
}

// WithSealer encrypts the VCS access token on write and decrypts it on read.
func (r *ProjectSQLRepository) WithSealer(s Sealer) *ProjectSQLRepository {
	r.sealer = s
	return r
}

func (r *ProjectSQLRepository) openCredentials(c *models.Credentials) error {
	if r.sealer == nil || c == nil {
		return nil
	}
	token, err := r.sealer.Open(c.VCSAccessToken)
	if err != nil {
		return fmt.Errorf("credentials for project %d: %w", c.ProjectID, err)
	}
	c.VCSAccessToken = token
	return nil
}

// Create inserts a project and returns its id.
func (r *ProjectSQLRepository) Create(ctx context.Context, p *models.Project) (int64, error) {
	if strings.TrimSpace(p.Name) == "" {
		return 0, errors.New("project name is required")
	}
	if p.CreateTime.IsZero() {
		p.CreateTime = r.now().UTC()
	}
	id, err := database.InsertReturningID(ctx, r.db, `
		INSERT INTO projects (name, description, owner_id, create_time)
		VALUES (?, ?, ?, ?)`,
		p.Name, p.Description, p.OwnerID, p.CreateTime)
	if err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetByID retrieves a project by its ID.
func (r *ProjectSQLRepository) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	query := database.ConvertPlaceholders(`
		SELECT id, name, description, owner_id, create_time FROM projects WHERE id = ?`)
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// List returns all projects ordered by id.
func (r *ProjectSQLRepository) List(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	if err := r.db.SelectContext(ctx, &projects,
		`SELECT id, name, description, owner_id, create_time FROM projects ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// AddMember records a project membership. Existing memberships are left alone.
func (r *ProjectSQLRepository) AddMember(ctx context.Context, projectID int64, userID, role string) error {
	if role == "" {
		role = "member"
	}
	var query string
	if database.IsMySQL() {
		query = `INSERT IGNORE INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`
	} else {
		query = `INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)
			ON CONFLICT (project_id, user_id) DO NOTHING`
	}
	if _, err := r.db.ExecContext(ctx, database.ConvertPlaceholders(query), projectID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

const credentialColumns = `project_id, tracker_source_url, vcs_access_token, repository, default_branch, change_time`

// GetCredentials returns the credentials row for a project.
func (r *ProjectSQLRepository) GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error) {
	var c models.Credentials
	query := database.ConvertPlaceholders(`SELECT ` + credentialColumns + ` FROM credentials WHERE project_id = ?`)
	if err := r.db.GetContext(ctx, &c, query, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credentials for project %d: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	if err := r.openCredentials(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCredentials creates or replaces a project's credentials.
func (r *ProjectSQLRepository) UpsertCredentials(ctx context.Context, c *models.Credentials) error {
	if c.DefaultBranch == "" {
		c.DefaultBranch = "main"
	}
	c.ChangeTime = r.now().UTC()
	token := c.VCSAccessToken
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("failed to seal credentials: %w", err)
		}
		token = sealed
	}

	var query string
	if database.IsMySQL() {
		query = `INSERT INTO credentials (` + credentialColumns + `)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				tracker_source_url = VALUES(tracker_source_url),
				vcs_access_token = VALUES(vcs_access_token),
				repository = VALUES(repository),
				default_branch = VALUES(default_branch),
				change_time = VALUES(change_time)`
	} else {
		query = `INSERT INTO credentials (` + credentialColumns + `)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (project_id) DO UPDATE SET
				tracker_source_url = excluded.tracker_source_url,
				vcs_access_token = excluded.vcs_access_token,
				repository = excluded.repository,
				default_branch = excluded.default_branch,
				change_time = excluded.change_time`
	}
	_, err := r.db.ExecContext(ctx, database.ConvertPlaceholders(query),
		c.ProjectID, strings.TrimSpace(c.TrackerSourceURL), token,
		strings.TrimSpace(c.Repository), c.DefaultBranch, c.ChangeTime)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// ListTrackerSources returns every credentials row that has a tracker URL.
func (r *ProjectSQLRepository) ListTrackerSources(ctx context.Context) ([]*models.Credentials, error) {
	var creds []*models.Credentials
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE tracker_source_url <> '' ORDER BY project_id`
	if err := r.db.SelectContext(ctx, &creds, query); err != nil {
		return nil, fmt.Errorf("failed to list tracker sources: %w", err)
	}
	for _, c := range creds {
		if err := r.openCredentials(c); err != nil {
			return nil, err
		}
	}
	return creds, nil
}
