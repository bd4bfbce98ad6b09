package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/templui/formpipe/cmd/admin/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Operational tools for formpipe",
	}

	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.WorkerCmd())
	rootCmd.AddCommand(cmd.QuestionnaireCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
