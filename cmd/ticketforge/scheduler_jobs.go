package main

import (
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/ticketforge/internal/config"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/services/scheduler"
)

// disabledSchedule in scheduler.schedules turns a job off.
const disabledSchedule = "off"

func buildSchedulerJobsFromConfig(cfg *config.Config) []*models.ScheduledJob {
	jobs := scheduler.DefaultJobs()
	if cfg == nil {
		return jobs
	}

	overrides := make(map[string]string, len(cfg.Scheduler.Schedules))
	for slug, spec := range cfg.Scheduler.Schedules {
		if strings.EqualFold(strings.TrimSpace(spec), disabledSchedule) {
			jobs = filterJobsBySlug(jobs, slug)
			continue
		}
		overrides[slug] = spec
	}
	jobs = scheduler.ApplySchedules(jobs, overrides)

	for _, job := range jobs {
		if job == nil || job.Slug != scheduler.DailySyncSlug {
			continue
		}
		if job.Config == nil {
			job.Config = make(map[string]any)
		}
		if cfg.Scheduler.MaxFailedProjects > 0 {
			job.Config["max_failed_projects"] = cfg.Scheduler.MaxFailedProjects
		}
	}
	return jobs
}

func filterJobsBySlug(jobs []*models.ScheduledJob, slug string) []*models.ScheduledJob {
	if slug == "" || len(jobs) == 0 {
		return jobs
	}
	filtered := make([]*models.ScheduledJob, 0, len(jobs))
	for _, job := range jobs {
		if job == nil || job.Slug == slug {
			continue
		}
		filtered = append(filtered, job)
	}
	return filtered
}

// newScheduler builds the cron service for a wired app. Run status is kept
// in redis when it is configured.
func newScheduler(a *app) *scheduler.Service {
	opts := []scheduler.Option{
		scheduler.WithLogger(prefixed("SCHEDULER")),
		scheduler.WithSweeper(a.sync),
		scheduler.WithJobs(buildSchedulerJobsFromConfig(a.cfg)),
		scheduler.WithLocation(a.cfg.Scheduler.Location()),
	}
	if a.rdb != nil {
		opts = append(opts, scheduler.WithStatusStore(newStatusStore(a.rdb, a.cfg)))
	}
	return scheduler.NewService(opts...)
}

// newStatusStore keys run status next to the dispatch queue.
func newStatusStore(rdb redis.UniversalClient, cfg *config.Config) *scheduler.RedisStatusStore {
	return scheduler.NewRedisStatusStore(rdb, cfg.Dispatch.QueueKey+":scheduler")
}
