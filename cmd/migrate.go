package cmd

import (
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/config"
	"github.com/spf13/cobra"
)

var runMigrations = account.Migrate

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	databaseURL := strings.TrimSpace(cfg.DatabaseURL)
	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		fmt.Fprintln(cmd.OutOrStdout(), "SQLite stores create their schema on open, nothing to migrate.")
		return nil
	}

	result, err := runMigrations(databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if result.From == result.To {
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (version %d).\n", result.To)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema migrated: %d -> %d\n", result.From, result.To)
	return nil
}
