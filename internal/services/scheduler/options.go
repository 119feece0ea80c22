package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goatkit/ticketforge/internal/models"
)

type options struct {
	Logger   *log.Logger
	Sweeper  Sweeper
	Status   StatusStore
	Cron     *cron.Cron
	Parser   cron.Parser
	Jobs     []*models.ScheduledJob
	Location *time.Location
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   log.Default(),
		Location: time.UTC,
		Parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithSweeper injects the ticket sync sweep run by tickets.syncAll.
func WithSweeper(s Sweeper) Option {
	return func(o *options) {
		o.Sweeper = s
	}
}

// WithStatusStore persists job run status after every run.
func WithStatusStore(st StatusStore) Option {
	return func(o *options) {
		o.Status = st
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*models.ScheduledJob) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}
