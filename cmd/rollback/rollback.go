// Package rollback reverts the most recently applied migration batch.
package rollback

import (
	"fmt"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/dailyfuel/dailyfuel/config"
	"github.com/dailyfuel/dailyfuel/migration/runner"
	"github.com/dailyfuel/dailyfuel/store"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent migration batch",
	Long: `Revert the most recent migration batch.

Migrations are reverted in reverse application order. Every migration
in the batch must still have its down file; a missing one aborts the
rollback before anything is reverted. The batch is listed and confirmed
before anything runs; use --force to skip the prompt.`,
	RunE: rollbackCommand,
}

const (
	dirFlag   = "dir"
	forceFlag = "force"
)

var rollbackFlags = map[string]cobraflags.Flag{
	dirFlag: &cobraflags.StringFlag{
		Name:  dirFlag,
		Value: "",
		Usage: "Directory containing migration files (overrides MIGRATIONS_DIR)",
	},
	forceFlag: &cobraflags.BoolFlag{
		Name:  forceFlag,
		Value: false,
		Usage: "Revert without asking for confirmation",
	},
}

func NewRollbackCommand() *cobra.Command {
	cobraflags.RegisterMap(rollbackCmd, rollbackFlags)
	return rollbackCmd
}

func rollbackCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dir := cfg.MigrationsDir
	if v := rollbackFlags[dirFlag].GetString(); v != "" {
		dir = v
	}

	db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	provider, err := runner.NewFSUnitProvider(os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("failed to read migrations from %s: %w", dir, err)
	}

	r := runner.New(runner.NewSQLLedger(db), provider)
	if !rollbackFlags[forceFlag].GetBool() {
		r = r.WithConfirm(runner.TerminalConfirm(os.Stdin, os.Stdout))
	}

	return r.Rollback(cmd.Context())
}
