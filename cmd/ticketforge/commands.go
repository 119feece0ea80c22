package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/services/scheduler"
)

// withApp wires the app, runs fn and drains queued tasks before returning.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.cfg.Dispatch.TaskTimeout)
		defer cancel()
		if cerr := a.close(drainCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [project-id]",
		Short: "Pull tickets from the tracker for one project or all of them",
		Long: `Pull the tracker export and upsert tickets.

New or changed tickets are queued for assessment. With the local
dispatcher the command waits for queued work before exiting.

Example:
  ticketforge sync 3
  ticketforge sync --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give a project id or --all")
			}
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				if all {
					res, err := a.sync.SyncAll(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}
				id, err := parseID(args[0], "project")
				if err != nil {
					return err
				}
				res, err := a.sync.Sync(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sync every project with a tracker source")
	return cmd
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, applied, err := openDatabase(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied migrations %v\n", applied)
			return nil
		},
	}
}

func newReconcileCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <ticket-id>",
		Short: "Push status done to the tracker if every job of the ticket is complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "ticket")
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				outcome, err := a.reconcile.CheckAndReconcile(ctx, id)
				if outcome != nil {
					if perr := printJSON(cmd.OutOrStdout(), outcome); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newPushCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <job-id>",
		Short: "Generate code for a job and open a pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "job")
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				res, err := a.push.PushJob(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newJobsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect or trigger scheduled jobs",
	}
	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs with their next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "table" {
				return fmt.Errorf("unknown output format %q", output)
			}
			opts := []scheduler.Option{
				scheduler.WithJobs(buildSchedulerJobsFromConfig(root.cfg)),
				scheduler.WithLocation(root.cfg.Scheduler.Location()),
				scheduler.WithLogger(prefixed("SCHEDULER")),
			}
			if root.cfg.Redis.Enabled() {
				rdb := redis.NewClient(&redis.Options{
					Addr:     root.cfg.Redis.Addr,
					Password: root.cfg.Redis.Password,
					DB:       root.cfg.Redis.DB,
				})
				defer rdb.Close()
				opts = append(opts, scheduler.WithStatusStore(newStatusStore(rdb, root.cfg)))
			}
			sched := scheduler.NewService(opts...)
			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = sched.Stop(stopCtx)
			}()
			if output == "table" {
				return writeJobsTable(cmd.OutOrStdout(), sched.Jobs(), time.Now())
			}
			return printJSON(cmd.OutOrStdout(), sched.Jobs())
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "json", "output format: json or table")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "run <slug>",
		Short: "Run a scheduled job once, now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app) error {
				return newScheduler(a).RunNow(ctx, args[0])
			})
		},
	})
	return cmd
}

// writeJobsTable prints jobs with run times relative to now.
func writeJobsTable(w io.Writer, jobs []models.ScheduledJob, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tSCHEDULE\tLAST RUN\tNEXT RUN\tLAST ERROR")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.Slug, job.Schedule, relative(job.LastRunAt, now), relative(job.NextRunAt, now), job.LastError)
	}
	return tw.Flush()
}

func relative(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return timeago.English.FormatReference(*t, now)
}
