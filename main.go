package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dailyfuel/dailyfuel/cmd/generate"
	"github.com/dailyfuel/dailyfuel/cmd/migrate"
	"github.com/dailyfuel/dailyfuel/cmd/rollback"
	"github.com/dailyfuel/dailyfuel/cmd/serve"
	"github.com/dailyfuel/dailyfuel/migration/runner"
)

var rootCmd = &cobra.Command{
	Use:   "dailyfuel",
	Short: "DailyFuel backend: HTTP API and database migration tooling",
	Long: `DailyFuel backend.

Runs the HTTP API (payment provider webhook, checkout creation, health
probe) and manages the database schema through batched SQL migrations.`,
	SilenceUsage: true,
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(generate.NewGenerateCommand())
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(rollback.NewRollbackCommand())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, runner.ErrDeclined) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			os.Exit(1)
		}
		os.Exit(1)
	}
}
