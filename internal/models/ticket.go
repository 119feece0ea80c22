package models

import (
	"database/sql"
	"time"
)

// Verdict is the classifier decision recorded on a ticket.
type Verdict string

const (
	VerdictUnset    Verdict = ""
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Valid reports whether v is one of the known verdict values.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictUnset, VerdictAccepted, VerdictRejected:
		return true
	}
	return false
}

// Ticket is a unit of requested work imported from the external issue tracker.
// ExternalID is unique per project.
type Ticket struct {
	ID            int64          `json:"id" db:"id"`
	ProjectID     int64          `json:"project_id" db:"project_id"`
	ExternalID    string         `json:"external_id" db:"external_id"`
	Title         string         `json:"title" db:"title"`
	Description   string         `json:"description" db:"description"`
	Verdict       Verdict        `json:"verdict" db:"verdict"`
	VerdictReason sql.NullString `json:"-" db:"verdict_reason"`
	CreatingJobs  bool           `json:"creating_jobs" db:"creating_jobs"`
	CreateTime    time.Time      `json:"create_time" db:"create_time"`
	ChangeTime    time.Time      `json:"change_time" db:"change_time"`
}

// Rejected returns true once the classifier rejected the ticket.
func (t *Ticket) Rejected() bool {
	return t.Verdict == VerdictRejected
}

// Accepted returns true once the classifier accepted the ticket.
func (t *Ticket) Accepted() bool {
	return t.Verdict == VerdictAccepted
}

// Reviewed returns true when a verdict has been recorded.
func (t *Ticket) Reviewed() bool {
	return t.Verdict != VerdictUnset
}

// Reason returns the verdict reason or an empty string.
func (t *Ticket) Reason() string {
	if !t.VerdictReason.Valid {
		return ""
	}
	return t.VerdictReason.String
}

// ContentEquals reports whether title and description match the given values.
func (t *Ticket) ContentEquals(title, description string) bool {
	return t.Title == title && t.Description == description
}

// ExternalTicket is a ticket as read from the issue tracker source.
type ExternalTicket struct {
	ExternalID  string `json:"jiraId"`
	Title       string `json:"jiraTitle"`
	Description string `json:"jiraDescription"`
}
