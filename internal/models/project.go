package models

import (
	"strings"
	"time"
)

// Project scopes tickets, jobs and credentials.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	CreateTime  time.Time `json:"create_time" db:"create_time"`
}

// Credentials holds per-project connection details for the external systems.
type Credentials struct {
	ProjectID        int64     `json:"project_id" db:"project_id"`
	TrackerSourceURL string    `json:"tracker_source_url" db:"tracker_source_url"`
	VCSAccessToken   string    `json:"-" db:"vcs_access_token"`
	Repository       string    `json:"repository" db:"repository"`
	DefaultBranch    string    `json:"default_branch" db:"default_branch"`
	ChangeTime       time.Time `json:"change_time" db:"change_time"`
}

// HasTrackerSource reports whether a tracker URL is configured.
func (c *Credentials) HasTrackerSource() bool {
	return c != nil && strings.TrimSpace(c.TrackerSourceURL) != ""
}

// RepositoryParts splits Repository into owner and name.
func (c *Credentials) RepositoryParts() (owner, name string, ok bool) {
	if c == nil {
		return "", "", false
	}
	owner, name, found := strings.Cut(strings.TrimSpace(c.Repository), "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}
