// Command nodeflow is the CLI entry point for the recurring graph runner.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeflow/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "nodeflow",
	Short:        "nodeflow graph execution engine CLI",
	Long:         "nodeflow — submit node graphs to the execution engine on a recurring schedule.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(cli.NewRunCmd())
}
