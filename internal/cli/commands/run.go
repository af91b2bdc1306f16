package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/engine"
)

// runOptions holds the run command's flags.
type runOptions struct {
	Select     string
	Downstream bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Materialize models in dependency order",
		Long: `Render every model, then execute each one against the target warehouse
in dependency order, creating tables and views. A failing model skips its
dependents; independent branches keep running. Results are recorded in the
run history.`,
		Example: `  # Run all models
  leapdbt run

  # Run two models by name
  leapdbt run --select stg_orders,stg_customers

  # Run a model and everything that depends on it
  leapdbt run --select stg_orders --downstream

  # Run against the prod target
  leapdbt run -t prod`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Select, "select", "s", "", "Comma-separated node names to run")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Also run dependents of the selection")

	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
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
	fmt.Fprintf(out, "Running on target %s\n\n", cmdCtx.Cfg.TargetName)

	result, err := cmdCtx.Engine.Run(ctx, token, engine.RunOptions{
		Select:     splitSelect(opts.Select),
		Downstream: opts.Downstream,
	})
	if result != nil && len(result.Results) > 0 {
		printResults(out, result)
	}
	return err
}
