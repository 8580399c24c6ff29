// Command care-reminders serves the reminder API and runs the schedule
// adjustment and missed-reminder jobs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"care-reminders/internal/config"
	"care-reminders/internal/handlers"
	"care-reminders/internal/jobs"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "care-reminders",
	Short: "Adaptive care reminders and missed-reminder detection",
	Long: `care-reminders learns when each patient actually acts on a reminder, moves the
reminder to that hour, and records reminders that were not completed in time.

Examples:
  # Run the API server with both jobs on their schedules
  care-reminders serve --config config.yaml

  # Run a single pass from cron or by hand
  care-reminders adjust
  care-reminders check-missed`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, adjustCmd, checkMissedCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run jobs on their schedules",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Move every reminder to the hour it is most often acted on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, func(a *app) jobs.Job { return a.engine })
	},
}

var checkMissedCmd = &cobra.Command{
	Use:   "check-missed",
	Short: "Record a missed event for every overdue, uncompleted reminder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, func(a *app) jobs.Job { return a.reconciler })
	},
}

func load(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

// runOnce runs one job, prints its report as JSON and fails if any reminder failed.
func runOnce(cmd *cobra.Command, pick func(*app) jobs.Job) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report, err := a.scheduler.RunNow(ctx, pick(a))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d reminders failed", len(failed), len(report.Results))
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.scheduler.Schedule(a.cfg.Jobs.AdjustSchedule, a.engine); err != nil {
		return err
	}
	if err := a.scheduler.Schedule(a.cfg.Jobs.MissedSchedule, a.reconciler); err != nil {
		return err
	}
	a.scheduler.Start()

	if a.cfg.Jobs.RunOnStart {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			for _, job := range []jobs.Job{a.engine, a.reconciler} {
				if _, err := a.scheduler.RunNow(runCtx, job); err != nil {
					a.log.Error("startup run failed", zap.String("job", job.Name()), zap.Error(err))
				}
			}
		}()
	}

	api := handlers.New(a.store, a.scheduler, a.log)
	api.AddJob(a.engine)
	api.AddJob(a.reconciler)
	srv := &http.Server{Addr: a.cfg.Server.Addr, Handler: api.Router(a.registry)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("starting care-reminders", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not start HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.scheduler.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
