package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/task-reminders/internal/app"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan and exit",
}

var scanDueNowCmd = &cobra.Command{
	Use:   "due-now",
	Short: "Auto-complete due tasks and push due notifications",
	Args:  cobra.NoArgs,
	RunE:  runScanDueNow,
}

var scanUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "Email reminders for tasks due within the horizon",
	Args:  cobra.NoArgs,
	RunE:  runScanUpcoming,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanDueNowCmd)
	scanCmd.AddCommand(scanUpcomingCmd)
}

func runScanDueNow(cmd *cobra.Command, args []string) error {
	a, err := newOneShotApp()
	if err != nil {
		return err
	}
	defer a.Stop(cmd.Context())

	res, err := a.Engine().ScanDueNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "matched %d, completed %d, pushes sent %d, failed %d\n",
		res.Matched, res.Completed, res.PushSent, res.PushFailed)
	return nil
}

func runScanUpcoming(cmd *cobra.Command, args []string) error {
	a, err := newOneShotApp()
	if err != nil {
		return err
	}
	defer a.Stop(cmd.Context())

	res, err := a.Engine().ScanUpcoming(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "matched %d, emails sent %d, failed %d, tasks marked %d\n",
		res.Matched, res.EmailsSent, res.EmailsFailed, res.Marked)
	return nil
}

// newOneShotApp builds the app without the scheduler or HTTP server.
func newOneShotApp() (*app.App, error) {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.Enabled = false
	cfg.Server.Enabled = false
	return app.New(cfg, logger)
}
