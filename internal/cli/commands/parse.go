package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewParseCommand creates the parse command.
func NewParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Parse the project and report what it contains",
		Long: `Load the project tree, resolve ref()/source() dependencies, and build
the execution graph without touching the warehouse. Parse errors (template
syntax, unknown refs, duplicate names) are reported per node.`,
		Example: `  # Validate the project in the current directory
  leapdbt parse

  # Validate another project
  leapdbt parse --project-dir ~/analytics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runParse(cmd)
		},
	}
}

func runParse(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := cmdCtx.Engine.Parse()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Parsed %d models, %d seeds, %d tests, %d sources",
		result.Models, result.Seeds, result.Tests, result.Sources)
	if result.Disabled > 0 {
		fmt.Fprintf(out, ", %d disabled", result.Disabled)
	}
	fmt.Fprintf(out, " in %s\n", result.Duration.Round(roundTo))

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\n%d problem(s) found:\n", len(result.Errors))
		for _, perr := range result.Errors {
			fmt.Fprintf(out, "  %v\n", perr)
		}
		return fmt.Errorf("%d node(s) failed to parse", len(result.Errors))
	}
	return nil
}
