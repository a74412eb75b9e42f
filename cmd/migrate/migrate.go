// Package migrate applies pending SQL migrations as a new batch.
package migrate

import (
	"fmt"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/dailyfuel/dailyfuel/config"
	"github.com/dailyfuel/dailyfuel/migration/runner"
	"github.com/dailyfuel/dailyfuel/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations.

Every migration applied in one invocation is recorded under a single
batch number, so a later rollback reverts them together. Pending
migrations are listed and confirmed before anything runs; use --force
to skip the prompt.`,
	RunE: migrateCommand,
}

const (
	dirFlag   = "dir"
	forceFlag = "force"
)

var migrateFlags = map[string]cobraflags.Flag{
	dirFlag: &cobraflags.StringFlag{
		Name:  dirFlag,
		Value: "",
		Usage: "Directory containing migration files (overrides MIGRATIONS_DIR)",
	},
	forceFlag: &cobraflags.BoolFlag{
		Name:  forceFlag,
		Value: false,
		Usage: "Apply without asking for confirmation",
	},
}

func NewMigrateCommand() *cobra.Command {
	cobraflags.RegisterMap(migrateCmd, migrateFlags)
	return migrateCmd
}

func migrateCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dir := cfg.MigrationsDir
	if v := migrateFlags[dirFlag].GetString(); v != "" {
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
	if !migrateFlags[forceFlag].GetBool() {
		r = r.WithConfirm(runner.TerminalConfirm(os.Stdin, os.Stdout))
	}

	return r.Up(cmd.Context())
}
