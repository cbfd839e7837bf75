// Package main provides the entry point for the trivia administration CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"triviaapp/cmd/adm/commands"
	"triviaapp/internal/config"
	"triviaapp/internal/database"
	"triviaapp/internal/observability"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Quiet CLI: no exporters, warnings and above only
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableLogging = false

	logger, otelShutdown, err := observability.SetupObservability(&cfg.OpenTelemetry, "trivia-adm")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error()})
		}
	}()

	dbManager := database.NewManager(logger)
	db, err := dbManager.InitDBWithoutMigrations(cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to connect to database", err, nil)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Trivia Question-Supply Administration Tool",
		Long: `Trivia Question-Supply Administration Tool

CLI for administering the question-supply engine: database migrations,
question imports, and generation job maintenance.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.DatabaseCommands(cfg, logger, dbManager, db))
	rootCmd.AddCommand(commands.JobCommands(cfg, logger, db))
	rootCmd.AddCommand(commands.QuestionCommands(logger, db))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
