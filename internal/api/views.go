package api

import (
	"bytes"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/goatkit/ticketforge/internal/models"
)

// TicketView is the JSON shape of a ticket.
type TicketView struct {
	ID           int64          `json:"id"`
	ProjectID    int64          `json:"project_id"`
	ExternalID   string         `json:"external_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Verdict      models.Verdict `json:"verdict"`
	Reason       string         `json:"reason,omitempty"`
	CreatingJobs bool           `json:"creating_jobs"`
	CreateTime   time.Time      `json:"create_time"`
	ChangeTime   time.Time      `json:"change_time"`
}

// JobView is the JSON shape of a job. TasksHTML is the rendered task list.
type JobView struct {
	ID         int64            `json:"id"`
	TicketID   int64            `json:"ticket_id"`
	ProjectID  int64            `json:"project_id"`
	Title      string           `json:"title"`
	Tasks      string           `json:"tasks"`
	TasksHTML  string           `json:"tasks_html"`
	Status     models.JobStatus `json:"status"`
	PRID       string           `json:"pr_id,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	VerifiedAt *time.Time       `json:"verified_at,omitempty"`
	CreateTime time.Time        `json:"create_time"`
}

// CredentialsView never carries the access token itself.
type CredentialsView struct {
	ProjectID        int64     `json:"project_id"`
	TrackerSourceURL string    `json:"tracker_source_url"`
	Repository       string    `json:"repository"`
	DefaultBranch    string    `json:"default_branch"`
	HasAccessToken   bool      `json:"has_access_token"`
	ChangeTime       time.Time `json:"change_time"`
}

func ticketView(t *models.Ticket) TicketView {
	return TicketView{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		ExternalID:   t.ExternalID,
		Title:        t.Title,
		Description:  t.Description,
		Verdict:      t.Verdict,
		Reason:       t.Reason(),
		CreatingJobs: t.CreatingJobs,
		CreateTime:   t.CreateTime,
		ChangeTime:   t.ChangeTime,
	}
}

func ticketViews(tickets []*models.Ticket) []TicketView {
	out := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketView(t))
	}
	return out
}

func jobView(j *models.Job) JobView {
	v := JobView{
		ID:         j.ID,
		TicketID:   j.TicketID,
		ProjectID:  j.ProjectID,
		Title:      j.Title,
		Tasks:      j.Tasks,
		TasksHTML:  renderTasks(j.Tasks),
		Status:     j.Status(),
		CreateTime: j.CreateTime,
	}
	if j.PRID.Valid {
		v.PRID = j.PRID.String
	}
	if j.FinishedAt.Valid {
		t := j.FinishedAt.Time
		v.FinishedAt = &t
	}
	if j.VerifiedAt.Valid {
		t := j.VerifiedAt.Time
		v.VerifiedAt = &t
	}
	return v
}

func jobViews(jobs []*models.Job) []JobView {
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView(j))
	}
	return out
}

func credentialsView(c *models.Credentials) CredentialsView {
	return CredentialsView{
		ProjectID:        c.ProjectID,
		TrackerSourceURL: c.TrackerSourceURL,
		Repository:       c.Repository,
		DefaultBranch:    c.DefaultBranch,
		HasAccessToken:   c.VCSAccessToken != "",
		ChangeTime:       c.ChangeTime,
	}
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// renderTasks converts the markdown task list to HTML. Raw HTML in the
// source is dropped by the renderer.
func renderTasks(tasks string) string {
	if tasks == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(tasks), &buf); err != nil {
		return ""
	}
	return buf.String()
}
