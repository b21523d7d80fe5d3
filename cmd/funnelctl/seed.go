package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"funneltrack/internal/seeder"
)

var seedSessions int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the database with demo funnels and traffic",
	Long: `Seed creates the demo funnels (if missing) and simulates visitor sessions
through them over the last 30 days, including UTM tagged traffic, consent
decisions and annotations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedSessions <= 0 {
			return fmt.Errorf("--sessions must be positive, got %d", seedSessions)
		}
		if err := app.DBManager.MigrateDatabase(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		se := seeder.NewSeeder(app.DBManager, slog.Default(), seedSessions)
		if err := se.Run(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d sessions\n", seedSessions)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedSessions, "sessions", seeder.DefaultSessions, "number of visitor sessions to simulate")
}
