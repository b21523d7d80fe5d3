// Package main provides funnelctl, the operator CLI for funneltrack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"funneltrack/internal"
)

const defaultShutdownTimeout = 30 * time.Second

// app is initialized by PersistentPreRunE and shared by every command.
var app *internal.Application

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "funnelctl",
	Short: "Operate a funneltrack installation",
	Long: `funnelctl runs maintenance tasks against the funneltrack database:
migrations, demo data, retention cleanup, funnel imports and reports.

Configuration is read from FUNNELTRACK_* environment variables.`,
	SilenceUsage:       true,
	PersistentPreRunE:  initApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return closeApp() },
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(reportCmd)
}

func initApp(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" {
		return nil
	}
	a, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	app = a
	return nil
}

func closeApp() error {
	if app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
