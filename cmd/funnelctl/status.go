package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"funneltrack/internal/config"
	"funneltrack/internal/database"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database location and table row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db := app.DBManager.GetConnection()
		tables, err := database.TableStatus(db)
		if err != nil {
			return err
		}

		cfg := config.GetConfig()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Environment: %s\n", cfg.Environment)
		fmt.Fprintf(out, "Database:    %s\n\n", cfg.GetDatabasePath())

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROWS")
		for _, t := range tables {
			rows := fmt.Sprintf("%d", t.Rows)
			if !t.Exists {
				rows = "missing"
			}
			fmt.Fprintf(w, "%s\t%s\n", t.Table, rows)
		}
		return w.Flush()
	},
}
