// Package generate creates empty migration files for manual editing.
package generate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate empty migration files for manual editing",
	Long: `Generate empty skeleton migration files with proper timestamps and
naming conventions.

Creates both up and down migration files that you can edit to add your
SQL. File names follow <timestamp>_<name>.up.sql / <timestamp>_<name>.down.sql,
which is the layout the migrate and rollback commands expect.`,
	RunE: generateCommand,
}

const (
	nameFlag      = "name"
	outputDirFlag = "output-dir"
)

var generateFlags = map[string]cobraflags.Flag{
	nameFlag: &cobraflags.StringFlag{
		Name:  nameFlag,
		Value: "",
		Usage: "Name for the migration (required)",
	},
	outputDirFlag: &cobraflags.StringFlag{
		Name:  outputDirFlag,
		Value: "./migrations",
		Usage: "Directory where migration files will be saved",
	},
}

func NewGenerateCommand() *cobra.Command {
	cobraflags.RegisterMap(generateCmd, generateFlags)
	return generateCmd
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func generateCommand(_ *cobra.Command, _ []string) error {
	name := generateFlags[nameFlag].GetString()
	outputDir := generateFlags[outputDirFlag].GetString()

	if name == "" {
		return fmt.Errorf("migration name is required (use --name flag)")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("migration name may only contain letters, digits, underscores and dashes: %s", name)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	version := time.Now().UTC().Format("20060102150405")
	base := fmt.Sprintf("%s_%s", version, name)
	upFile := filepath.Join(outputDir, base+".up.sql")
	downFile := filepath.Join(outputDir, base+".down.sql")

	if _, err := os.Stat(upFile); err == nil {
		return fmt.Errorf("migration file already exists: %s", upFile)
	}

	upBody := fmt.Sprintf("-- %s\n-- Add your forward SQL here.\n", name)
	downBody := fmt.Sprintf("-- %s\n-- Add the SQL that reverses the up migration here.\n", name)

	if err := os.WriteFile(upFile, []byte(upBody), 0o644); err != nil {
		return fmt.Errorf("failed to write up migration file: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(downBody), 0o644); err != nil {
		return fmt.Errorf("failed to write down migration file: %w", err)
	}

	fmt.Printf("Generated migration files:\n")
	fmt.Printf("  UP:   %s\n", upFile)
	fmt.Printf("  DOWN: %s\n", downFile)

	return nil
}
