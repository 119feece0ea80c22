package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/goatkit/ticketforge/internal/api"
	"github.com/goatkit/ticketforge/internal/config"
	"github.com/goatkit/ticketforge/internal/metrics"
	"github.com/goatkit/ticketforge/internal/middleware"
	"github.com/goatkit/ticketforge/internal/services/scheduler"
)

type serveOptions struct {
	*rootOptions
	NoScheduler bool
	Watch       bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, task workers and the daily sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not run cron jobs in this process")
	cmd.Flags().BoolVar(&opts.Watch, "watch-config", true, "reload rate limits when the config file changes")
	return cmd
}

func runServe(parent context.Context, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	logger := prefixed("SERVE")
	if cfg.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := metrics.RegisterBuildInfo(version); err != nil {
		logger.Printf("build info not registered: %v", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	if a.queue != nil {
		go func() {
			if err := a.queue.Run(ctx); err != nil {
				logger.Printf("redis dispatcher stopped: %v", err)
			}
		}()
	}

	var sched *scheduler.Service
	if cfg.Scheduler.Enabled && !opts.NoScheduler {
		sched = newScheduler(a)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		go limiter.RunPruner(ctx.Done())
	}
	if opts.Watch && opts.ConfigPath != "" {
		if err := config.Watch(prefixed("CONFIG"), func(next *config.Config) {
			if limiter != nil && next.Server.RateLimit > 0 {
				limiter.SetRate(next.Server.RateLimit, next.Server.RateBurst)
			}
		}); err != nil {
			logger.Printf("config watch disabled: %v", err)
		}
	}

	handler, err := api.NewHandler(api.Deps{
		Projects:   a.projects,
		Tickets:    a.tickets,
		Jobs:       a.jobs,
		Syncer:     a.sync,
		Finisher:   a.reconcile,
		Pusher:     a.push,
		Dispatcher: a.dispatcher,
		Health:     a.pool.PingContext,
	}, api.WithLogger(prefixed("API")), api.WithSyncLimiter(limiter))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			return err
		}
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Printf("scheduler stop: %v", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
		return err
	}
	return nil
}
