package main

import (
	"context"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"

	"github.com/nhle/task-reminders/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP server until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveShutdownTimeout time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for in-flight scans on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	logger.Info("task reminders running",
		"due_now_every", cfg.Scheduler.DueNowInterval(),
		"upcoming_every", cfg.Scheduler.UpcomingInterval(),
		"horizon", cfg.Scheduler.UpcomingHorizon(),
	)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		serveShutdownTimeout,
		map[string]gfshutdown.Operation{
			"task-reminders": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return a.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("exited", "code", exitCode)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
