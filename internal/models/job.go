package models

import (
	"database/sql"
	"time"
)

// Job is an independently implementable slice of a ticket's work.
// A job is complete once both PRID and FinishedAt are set.
type Job struct {
	ID         int64          `json:"id" db:"id"`
	TicketID   int64          `json:"ticket_id" db:"ticket_id"`
	ProjectID  int64          `json:"project_id" db:"project_id"`
	Title      string         `json:"title" db:"title"`
	Tasks      string         `json:"tasks" db:"tasks"`
	PRID       sql.NullString `json:"-" db:"pr_id"`
	FinishedAt sql.NullTime   `json:"-" db:"finished_at"`
	VerifiedAt sql.NullTime   `json:"-" db:"verified_at"`
	CreateTime time.Time      `json:"create_time" db:"create_time"`
}

// Complete reports whether the job has both a change request id and a finish time.
func (j *Job) Complete() bool {
	return j.PRID.Valid && j.PRID.String != "" && j.FinishedAt.Valid && !j.FinishedAt.Time.IsZero()
}

// JobDraft is a job produced by the splitter before it is persisted.
type JobDraft struct {
	Title string `json:"title"`
	Tasks string `json:"tasks"`
}

// AllJobsComplete returns true when jobs is non-empty and every job is complete.
func AllJobsComplete(jobs []*Job) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, job := range jobs {
		if job == nil || !job.Complete() {
			return false
		}
	}
	return true
}

// JobStatus is the display state of a job.
type JobStatus string

const (
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusInProgress JobStatus = "In Progress"
	JobStatusVerified   JobStatus = "Verified"
	JobStatusGenerating JobStatus = "Generating"
)

// Status derives the display state. A finish time wins over a change
// request id, which wins over verification.
func (j *Job) Status() JobStatus {
	switch {
	case j.FinishedAt.Valid:
		return JobStatusCompleted
	case j.PRID.Valid && j.PRID.String != "":
		return JobStatusInProgress
	case j.VerifiedAt.Valid:
		return JobStatusVerified
	default:
		return JobStatusGenerating
	}
}
