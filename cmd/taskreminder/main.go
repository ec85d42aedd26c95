// Command taskreminder runs the due-task notification pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nhle/task-reminders/internal/app"
	"github.com/nhle/task-reminders/internal/credential"
	"github.com/nhle/task-reminders/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "taskreminder",
	Short:        "Due-task reminders over Web Push and email",
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the YAML config file")
}

// loadRuntime reads the config, fills secrets from the keyring and builds
// the logger.
func loadRuntime() (*model.AppConfig, *slog.Logger, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	if creds, err := credential.Open(); err != nil {
		logger.Warn("keyring unavailable, using config secrets only", "error", err)
	} else if err := creds.Apply(cfg); err != nil {
		return nil, nil, fmt.Errorf("reading secrets from keyring: %w", err)
	}

	return cfg, logger, nil
}
