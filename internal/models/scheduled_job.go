package models

import "time"

// ScheduledJob describes a recurring job run by the cron scheduler.
type ScheduledJob struct {
	Name           string         `json:"name" yaml:"name"`
	Slug           string         `json:"slug" yaml:"slug"`
	Handler        string         `json:"handler" yaml:"handler"`
	Schedule       string         `json:"schedule" yaml:"schedule"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"`
	Config         map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty" yaml:"-"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty" yaml:"-"`
	LastError      string         `json:"last_error,omitempty" yaml:"-"`
}

// Timeout returns the configured timeout, defaulting to five minutes.
func (j *ScheduledJob) Timeout() time.Duration {
	if j == nil || j.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}
