package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"

	"github.com/spf13/cobra"
)

// JobCommands returns the generation job maintenance commands
func JobCommands(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Generation job maintenance commands",
		Long: `Generation job maintenance commands.

Available commands:
  sweep  - Remove expired terminal jobs
  list   - List jobs for a user`,
	}

	registry := services.NewPostgresJobRegistry(db, logger)

	var retention time.Duration
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired terminal jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			removed, err := registry.SweepTerminal(context.Background(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d jobs\n", removed)
			return nil
		},
	}
	sweepCmd.Flags().DurationVar(&retention, "retention", cfg.Generation.JobRetention,
		"Keep terminal jobs completed within this window")
	jobsCmd.AddCommand(sweepCmd)

	var ownerID int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs for a user",
		RunE: func(_ *cobra.Command, _ []string) error {
			if ownerID <= 0 {
				return fmt.Errorf("--user is required")
			}
			jobs, err := registry.ListByOwner(context.Background(), ownerID)
			if err != nil {
				return err
			}
			for i := range jobs {
				job := &jobs[i]
				fmt.Printf("%s  %-9s  target=%d generated=%d duplicates=%d trigger=%s\n",
					job.ID, job.Status, job.TargetCount, job.GeneratedCount, job.DuplicateCount, job.Trigger)
			}
			fmt.Printf("%d jobs\n", len(jobs))
			return nil
		},
	}
	listCmd.Flags().IntVar(&ownerID, "user", 0, "Owner user ID")
	jobsCmd.AddCommand(listCmd)

	return jobsCmd
}
