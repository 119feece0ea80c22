package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/ticketforge/internal/completion"
	"github.com/goatkit/ticketforge/internal/config"
	"github.com/goatkit/ticketforge/internal/database"
	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/metrics"
	"github.com/goatkit/ticketforge/internal/repository"
	"github.com/goatkit/ticketforge/internal/secrets"
	"github.com/goatkit/ticketforge/internal/services/assessment"
	"github.com/goatkit/ticketforge/internal/services/codepush"
	"github.com/goatkit/ticketforge/internal/services/reconcile"
	"github.com/goatkit/ticketforge/internal/services/splitter"
	"github.com/goatkit/ticketforge/internal/services/ticketsync"
	"github.com/goatkit/ticketforge/internal/tracker"
	"github.com/goatkit/ticketforge/internal/vcs"
)

// app holds every wired component for one process.
type app struct {
	cfg  *config.Config
	pool *database.Pool
	rdb  *redis.Client

	registry   *dispatch.Registry
	dispatcher dispatch.Dispatcher
	local      *dispatch.Local
	queue      *dispatch.Redis

	projects *repository.ProjectSQLRepository
	tickets  *repository.TicketSQLRepository
	jobs     *repository.JobSQLRepository

	sync      *ticketsync.Service
	assess    *assessment.Service
	split     *splitter.Service
	reconcile *reconcile.Service
	push      *codepush.Service
}

func prefixed(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", log.LstdFlags)
}

// openDatabase opens the pool and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.Pool, []int, error) {
	pool, err := database.Open(ctx, cfg.Database.PoolConfig(), prefixed("DB"))
	if err != nil {
		return nil, nil, err
	}
	applied, err := database.Migrate(ctx, pool.DB)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, applied, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, applied, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool}
	if len(applied) > 0 {
		log.Printf("applied migrations %v", applied)
	}
	if err := metrics.RegisterDBStats(pool.DB.DB, cfg.Database.Name); err != nil {
		log.Printf("db stats collector not registered: %v", err)
	}

	if err := a.wire(ctx); err != nil {
		a.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	a.projects = repository.NewProjectRepository(a.pool.DB)
	if cfg.Secrets.Key != "" {
		box, err := secrets.NewBox(cfg.Secrets.Key)
		if err != nil {
			return err
		}
		a.projects = a.projects.WithSealer(box)
	}
	a.tickets = repository.NewTicketRepository(a.pool.DB)
	a.jobs = repository.NewJobRepository(a.pool.DB)

	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	a.registry = dispatch.NewRegistry()
	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(prefixed("DISPATCH")),
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithTaskTimeout(cfg.Dispatch.TaskTimeout),
		dispatch.WithQueueKey(cfg.Dispatch.QueueKey),
	}
	if cfg.Dispatch.Backend == "redis" {
		a.queue = dispatch.NewRedis(a.rdb, a.registry, dispatchOpts...)
		a.dispatcher = a.queue
	} else {
		a.local = dispatch.NewLocal(a.registry, dispatchOpts...)
		a.dispatcher = a.local
	}

	completionLog := prefixed("COMPLETION")
	if !cfg.Completion.Configured() {
		completionLog.Printf("completion api key not set; assessment and splitting will fail, code push will simulate")
	}
	llm := completion.NewClient(completion.Config{
		BaseURL:   cfg.Completion.BaseURL,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		RateLimit: cfg.Completion.RateLimit,
		Burst:     cfg.Completion.Burst,
	}, completion.WithLogger(completionLog), completion.WithHTTPClient(&http.Client{Timeout: cfg.Completion.Timeout}))
	retrier := newRetrier(cfg.Completion.Retry, completionLog)
	completer := completion.WithRetry(llm, retrier)

	trackerClient := tracker.NewClient(
		tracker.WithLogger(prefixed("TRACKER")),
		tracker.WithAuthToken(cfg.Tracker.AuthToken),
		tracker.WithHTTPClient(&http.Client{Timeout: cfg.Tracker.Timeout}),
	)

	var err error
	a.sync = ticketsync.NewService(a.projects, a.tickets, trackerClient, a.dispatcher, ticketsync.WithLogger(prefixed("TICKET-SYNC")))
	a.assess, err = assessment.NewService(a.tickets, completer, a.dispatcher,
		assessment.WithLogger(prefixed("ASSESSMENT")), assessment.WithModel(cfg.Completion.Model))
	if err != nil {
		return err
	}
	a.split, err = splitter.NewService(a.tickets, a.jobs, completer,
		splitter.WithLogger(prefixed("SPLITTER")), splitter.WithModel(cfg.Completion.Model))
	if err != nil {
		return err
	}
	a.reconcile = reconcile.NewService(a.tickets, a.jobs, a.projects, trackerClient, a.dispatcher, reconcile.WithLogger(prefixed("RECONCILE")))

	github := vcs.NewClient(
		vcs.WithBaseURL(cfg.GitHub.BaseURL),
		vcs.WithAuthor(vcs.Author{Name: cfg.GitHub.AuthorName, Email: cfg.GitHub.AuthorEmail}),
		vcs.WithLogger(prefixed("VCS")),
	)
	a.push, err = codepush.NewService(a.jobs, a.tickets, a.projects, llm, github, a.reconcile,
		codepush.WithLogger(prefixed("CODEPUSH")),
		codepush.WithBotToken(cfg.GitHub.BotToken),
		codepush.WithRetrier(newRetrier(cfg.Completion.Retry, completionLog)),
	)
	if err != nil {
		return err
	}

	registerTaskHandlers(a.registry, a)
	return nil
}

// registerTaskHandlers routes every task kind to its service.
func registerTaskHandlers(r *dispatch.Registry, a *app) {
	r.RegisterHandler(dispatch.KindAssessTicket, a.assess.HandleTask)
	r.RegisterHandler(dispatch.KindSplitTicket, a.split.HandleTask)
	r.RegisterHandler(dispatch.KindReconcileTicket, a.reconcile.HandleReconcileTask)
	r.RegisterHandler(dispatch.KindTrackerNotify, a.reconcile.HandleNotifyTask)
}

func newRetrier(rc config.RetryConfig, logger *log.Logger) *completion.Retrier {
	r := completion.NewRetrier(logger)
	r.MaxRetries = rc.MaxRetries
	if rc.BaseDelay > 0 {
		r.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		r.MaxDelay = rc.MaxDelay
	}
	if rc.Timeout > 0 {
		r.Timeout = rc.Timeout
	}
	return r
}

// close drains the local queue, then releases redis and the database.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.local != nil {
		if err := a.local.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain dispatcher: %w", err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
