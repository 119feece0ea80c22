// Package scheduler runs recurring jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goatkit/ticketforge/internal/models"
)

// ErrUnknownJob is returned by RunNow for a slug that is not registered.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// JobHandler executes one scheduled job run.
type JobHandler func(ctx context.Context, job *models.ScheduledJob) error

// SweepError fails a sync run when too many projects failed.
type SweepError struct {
	Failed   int
	Projects int
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("scheduler: sync failed for %d of %d project(s)", e.Failed, e.Projects)
}

// Service owns the cron engine and the registered jobs.
type Service struct {
	logger   *log.Logger
	cron     *cron.Cron
	parser   cron.Parser
	location *time.Location
	sweeper  Sweeper
	status   StatusStore
	metrics  *schedulerMetrics
	now      func() time.Time

	mu       sync.Mutex
	handlers map[string]JobHandler
	jobs     map[string]*models.ScheduledJob
	entries  map[string]cron.EntryID
	started  bool
	cancel   context.CancelFunc
}

// NewService creates a scheduler with the built-in handlers registered.
func NewService(opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Cron == nil {
		o.Cron = cron.New(
			cron.WithLocation(o.Location),
			cron.WithParser(o.Parser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(o.Logger)), cron.SkipIfStillRunning(cron.PrintfLogger(o.Logger))),
		)
	}
	jobs := o.Jobs
	if jobs == nil {
		jobs = defaultJobs()
	}

	s := &Service{
		logger:   o.Logger,
		cron:     o.Cron,
		parser:   o.Parser,
		location: o.Location,
		sweeper:  o.Sweeper,
		status:   o.Status,
		metrics:  globalSchedulerMetrics(),
		now:      time.Now,
		handlers: make(map[string]JobHandler),
		jobs:     make(map[string]*models.ScheduledJob, len(jobs)),
		entries:  make(map[string]cron.EntryID, len(jobs)),
	}
	for _, job := range jobs {
		if job == nil || job.Slug == "" {
			continue
		}
		s.jobs[job.Slug] = job
	}
	s.registerBuiltinHandlers()
	return s
}

// RegisterHandler binds a handler name used by ScheduledJob.Handler.
func (s *Service) RegisterHandler(name string, h JobHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// Start schedules every job and starts the cron engine. Runs use a context
// derived from ctx, so cancelling ctx aborts in-flight runs. Every job is
// validated before any is scheduled, and the last stored run status of each
// job is restored first when a status store is configured.
func (s *Service) Start(ctx context.Context) error {
	s.restoreStatus(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	schedules := make(map[string]cron.Schedule, len(s.jobs))
	for slug, job := range s.jobs {
		if _, ok := s.handlers[job.Handler]; !ok {
			return fmt.Errorf("scheduler: job %s: no handler %q", slug, job.Handler)
		}
		schedule, err := s.parser.Parse(job.Schedule)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", slug, job.Schedule, err)
		}
		schedules[slug] = schedule
	}

	base, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for slug, schedule := range schedules {
		job := s.jobs[slug]
		s.entries[slug] = s.cron.Schedule(schedule, cron.FuncJob(func() {
			_ = s.run(base, job)
		}))
	}
	s.cron.Start()
	s.started = true
	s.logger.Printf("scheduler: started with %d job(s) in %s", len(s.entries), s.location)
	return nil
}

// restoreStatus copies the stored last run of each known job. A store error
// is logged and the jobs start without history.
func (s *Service) restoreStatus(ctx context.Context) {
	if s.status == nil {
		return
	}
	stored, err := s.status.Load(ctx)
	if err != nil {
		s.logger.Printf("scheduler: run status not restored: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, saved := range stored {
		job, ok := s.jobs[slug]
		if !ok || saved.LastRunAt == nil {
			continue
		}
		last := *saved.LastRunAt
		job.LastRunAt = &last
		job.LastError = saved.LastError
	}
}

// Stop halts the cron engine and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// RunNow runs the job with slug synchronously.
func (s *Service) RunNow(ctx context.Context, slug string) error {
	s.mu.Lock()
	job, ok := s.jobs[slug]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, slug)
	}
	return s.run(ctx, job)
}

// Jobs returns a snapshot of the registered jobs with their next run times.
func (s *Service) Jobs() []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScheduledJob, 0, len(s.jobs))
	for slug, job := range s.jobs {
		cp := *job
		if id, ok := s.entries[slug]; ok {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				cp.NextRunAt = &next
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (s *Service) run(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	handler, ok := s.handlers[job.Handler]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %s: no handler %q", job.Slug, job.Handler)
	}

	runCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	started := s.now()
	done := s.metrics.recordRun(job.Slug)
	err := handler(runCtx, job)
	done(err)

	s.mu.Lock()
	job.LastRunAt = &started
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	snapshot := *job
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("scheduler: job %s failed after %s: %v", job.Slug, s.now().Sub(started).Round(time.Millisecond), err)
	}
	if s.status != nil {
		if serr := s.status.Save(context.WithoutCancel(ctx), &snapshot); serr != nil {
			s.logger.Printf("scheduler: job %s status not saved: %v", job.Slug, serr)
		}
	}
	return err
}
