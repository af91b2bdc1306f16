package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load seed CSV files into the warehouse",
		Long: `Load every CSV under the project's seed paths into a table named after
the file, replacing the table when it already exists.`,
		Example: `  # Load all seeds
  leapdbt seed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd)
		},
	}
}

func runSeed(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := cmdCtx.Engine.Parse(); err != nil {
		return err
	}

	ctx, token, stop := signalToken(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Seeding target %s\n\n", cmdCtx.Cfg.TargetName)

	result, err := cmdCtx.Engine.Seed(ctx, token)
	if result != nil && len(result.Results) > 0 {
		printResults(out, result)
	}
	return err
}
