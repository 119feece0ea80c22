package scheduler

import (
	"context"
	"strconv"
	"strings"

	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/services/ticketsync"
)

// Handler names.
const (
	HandlerSyncAll = "tickets.syncAll"
)

// DailySyncSlug identifies the daily tracker sweep.
const DailySyncSlug = "tickets-daily-sync"

// Sweeper syncs every project that has a tracker source.
type Sweeper interface {
	SyncAll(ctx context.Context) (*ticketsync.SweepResult, error)
}

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(HandlerSyncAll, s.handleSyncAll)
}

func (s *Service) handleSyncAll(ctx context.Context, job *models.ScheduledJob) error {
	if s.sweeper == nil {
		s.logger.Printf("scheduler: ticket sync unavailable, skipping syncAll")
		return nil
	}
	done := s.metrics.recordSweep()
	result, err := s.sweeper.SyncAll(ctx)
	done(result)
	if err != nil {
		return err
	}

	s.logger.Printf("scheduler: syncAll added %d, updated %d, seen %d across %d project(s)",
		result.TotalAdded, result.TotalUpdated, result.TotalSeen, result.Projects)
	maxFailed := intFromConfig(job.Config, "max_failed_projects", 0)
	if len(result.Failed) > 0 {
		s.logger.Printf("scheduler: syncAll failed for %d project(s)", len(result.Failed))
		if maxFailed > 0 && len(result.Failed) >= maxFailed {
			return &SweepError{Failed: len(result.Failed), Projects: result.Projects}
		}
	}
	return nil
}

func defaultJobs() []*models.ScheduledJob {
	return []*models.ScheduledJob{
		{
			Name:           "Daily Tracker Sync",
			Slug:           DailySyncSlug,
			Handler:        HandlerSyncAll,
			Schedule:       "0 6 * * *",
			TimeoutSeconds: 1800,
			Config: map[string]any{
				"max_failed_projects": 0,
			},
		},
	}
}

// ApplySchedules overrides the schedule of jobs by slug. Unknown slugs and
// blank schedules are ignored.
func ApplySchedules(jobs []*models.ScheduledJob, schedules map[string]string) []*models.ScheduledJob {
	for _, job := range jobs {
		if spec := strings.TrimSpace(schedules[job.Slug]); spec != "" {
			job.Schedule = spec
		}
	}
	return jobs
}

// DefaultJobs returns fresh copies of the built-in job definitions.
func DefaultJobs() []*models.ScheduledJob {
	return defaultJobs()
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	val, ok := cfg[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}
