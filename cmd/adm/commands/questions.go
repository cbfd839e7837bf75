package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// questionFile is the YAML shape accepted by the import command
type questionFile struct {
	Questions []struct {
		Prompt  string   `yaml:"prompt"`
		Options []string `yaml:"options"`
		Answer  string   `yaml:"answer"`
		Topic   string   `yaml:"topic"`
		MinAge  *int     `yaml:"min_age"`
		MaxAge  *int     `yaml:"max_age"`
	} `yaml:"questions"`
}

// QuestionCommands returns the question catalog commands
func QuestionCommands(logger *observability.Logger, db *sql.DB) *cobra.Command {
	questionsCmd := &cobra.Command{
		Use:   "questions",
		Short: "Question catalog commands",
		Long: `Question catalog commands.

Available commands:
  import  - Bulk import questions from a YAML file
  count   - Show catalog size and per-user unassigned supply`,
	}

	service := services.NewQuestionService(db, logger)

	questionsCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Bulk import questions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file questionFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return err
			}

			questions := make([]models.Question, 0, len(file.Questions))
			for _, q := range file.Questions {
				question := models.Question{
					Prompt:  q.Prompt,
					Options: q.Options,
					Answer:  q.Answer,
					Topic:   q.Topic,
				}
				if q.MinAge != nil {
					question.MinAge = sql.NullInt32{Int32: int32(*q.MinAge), Valid: true}
				}
				if q.MaxAge != nil {
					question.MaxAge = sql.NullInt32{Int32: int32(*q.MaxAge), Valid: true}
				}
				questions = append(questions, question)
			}

			result, err := service.ImportQuestions(context.Background(), questions)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d, skipped %d of %d questions\n", result.Inserted, result.Skipped, result.Total)
			return nil
		},
	})

	var countUserID, countAge int
	var countTopic string
	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Show catalog size and per-user unassigned supply",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			total, err := service.CountTotal(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Total questions: %d\n", total)

			if countUserID > 0 {
				filters := models.QuestionFilters{Topic: countTopic}
				if countAge >= 0 {
					filters.Age = &countAge
				}
				available, err := service.CountAvailable(ctx, countUserID, filters)
				if err != nil {
					return err
				}
				fmt.Printf("Available for user %d: %d\n", countUserID, available)
			}
			return nil
		},
	}
	countCmd.Flags().IntVar(&countUserID, "user", 0, "Count unassigned supply for this user ID")
	countCmd.Flags().IntVar(&countAge, "age", -1, "Apply an age filter to the supply count")
	countCmd.Flags().StringVar(&countTopic, "topic", "", "Apply a topic filter to the supply count")
	questionsCmd.AddCommand(countCmd)

	return questionsCmd
}
