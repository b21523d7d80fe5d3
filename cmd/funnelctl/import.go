package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"funneltrack/internal/funnels"
)

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create funnels from a YAML definitions file",
	Long: `Import creates every funnel listed in a YAML file. Funnels whose name
already exists are skipped.

Example file:
  funnels:
    - name: Checkout
      description: Cart to payment
      status: active
      steps:
        - {type: page, name: Cart, page_id: 10}
        - {type: form, name: Payment, form_id: 20}`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open definitions: %w", err)
	}
	defer f.Close()

	defs, err := funnels.ParseDefinitions(f)
	if err != nil {
		return err
	}

	result, err := funnels.ImportDefinitions(app.DBManager.GetConnection(), slog.Default(), defs)
	out := cmd.OutOrStdout()
	if result != nil {
		for _, name := range result.Created {
			fmt.Fprintf(out, "created  %s\n", name)
		}
		for _, name := range result.Skipped {
			fmt.Fprintf(out, "skipped  %s (already exists)\n", name)
		}
	}
	return err
}
