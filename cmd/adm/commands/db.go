// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"fmt"

	"triviaapp/internal/config"
	"triviaapp/internal/database"
	"triviaapp/internal/observability"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(cfg *config.Config, logger *observability.Logger, dbManager *database.Manager, db *sql.DB) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the trivia backend.

Available commands:
  migrate  - Apply pending schema migrations
  stats    - Show table row counts`,
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			if err := dbManager.RunMigrations(ctx, cfg.Database); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show table row counts",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			for _, table := range []string{"questions", "question_assignments", "generation_jobs"} {
				var count int
				if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
					return err
				}
				fmt.Printf("%-24s %d\n", table, count)
			}
			return nil
		},
	})

	return dbCmd
}
