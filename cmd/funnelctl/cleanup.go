package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"funneltrack/internal/config"
	"funneltrack/internal/jobs"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete events past the retention window and expired consent records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		job := jobs.NewCleanupJob(app.DBManager.GetConnection(), slog.Default(), cfg.DataRetentionDays)

		result, err := job.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Retention: %d days (cutoff %s)\n", result.RetentionDays, result.Cutoff.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Events deleted: %d\n", result.EventsDeleted)
		fmt.Fprintf(out, "Consent records deleted: %d\n", result.ConsentsDeleted)
		return nil
	},
}
