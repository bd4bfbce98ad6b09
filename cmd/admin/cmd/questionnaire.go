package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/service"
)

func QuestionnaireCmd() *cobra.Command {
	var locale string

	cmd := &cobra.Command{
		Use:   "questionnaire <id>",
		Short: "Print a questionnaire as clients see it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(database *sqlx.DB, _ string) error {
				q, err := repository.NewQuestionnaireRepository(database).ByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load questionnaire %s: %w", args[0], err)
				}

				out, err := json.MarshalIndent(service.Localize(q, locale, "en"), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&locale, "locale", "en", "locale to render")
	return cmd
}
