package models

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func finishedJob(prID string) *Job {
	return &Job{
		PRID:       sql.NullString{String: prID, Valid: true},
		FinishedAt: sql.NullTime{Time: time.Unix(1700000000, 0), Valid: true},
	}
}

func TestJobComplete(t *testing.T) {
	assert.True(t, finishedJob("12").Complete())
	assert.False(t, finishedJob("").Complete())
	assert.False(t, (&Job{PRID: sql.NullString{String: "12", Valid: true}}).Complete())
	assert.False(t, (&Job{}).Complete())
}

func TestAllJobsComplete(t *testing.T) {
	assert.False(t, AllJobsComplete(nil))
	assert.True(t, AllJobsComplete([]*Job{finishedJob("1"), finishedJob("2")}))
	assert.False(t, AllJobsComplete([]*Job{finishedJob("1"), {}}))
	assert.False(t, AllJobsComplete([]*Job{finishedJob("1"), nil}))
}

func TestJobStatus(t *testing.T) {
	verified := sql.NullTime{Time: time.Unix(1700000000, 0), Valid: true}

	tests := []struct {
		name string
		job  *Job
		want JobStatus
	}{
		{"fresh", &Job{}, JobStatusGenerating},
		{"verified", &Job{VerifiedAt: verified}, JobStatusVerified},
		{"pr open", &Job{PRID: sql.NullString{String: "7", Valid: true}, VerifiedAt: verified}, JobStatusInProgress},
		{"finished", finishedJob("7"), JobStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Status())
		})
	}
}
