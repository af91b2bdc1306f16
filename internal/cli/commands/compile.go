package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// roundTo is the display resolution for durations.
const roundTo = time.Millisecond

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Render every model to executable SQL",
		Long: `Render each model's template and write the result under
{target-path}/compiled/{package}/{model path}. No warehouse connection
is made; compile is the fast feedback loop for template changes.`,
		Example: `  # Compile the project
  leapdbt compile

  # Compile with variable overrides
  leapdbt compile --vars '{start_date: 2024-01-01}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd)
		},
	}
}

func runCompile(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := cmdCtx.Engine.Parse(); err != nil {
		return err
	}

	_, token, stop := signalToken(cmd.Context())
	defer stop()

	result, err := cmdCtx.Engine.Compile(token)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Compiled %d models in %s\n",
		len(result.Nodes), result.Duration.Round(roundTo))
	return nil
}
