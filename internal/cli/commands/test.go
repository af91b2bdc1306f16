package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/engine"
)

// NewTestCommand creates the test command.
func NewTestCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the project's data tests",
		Long: `Execute each declared column test (unique, not_null) against the
materialized relations. A test fails when its query reports failing rows.`,
		Example: `  # Run every test
  leapdbt test

  # Run only tests attached to one model
  leapdbt test --select stg_orders`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTest(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Select, "select", "s", "", "Comma-separated node names whose tests run")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Also test dependents of the selection")

	return cmd
}

func runTest(cmd *cobra.Command, opts *runOptions) error {
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
	fmt.Fprintf(out, "Testing on target %s\n\n", cmdCtx.Cfg.TargetName)

	result, err := cmdCtx.Engine.Test(ctx, token, engine.RunOptions{
		Select:     splitSelect(opts.Select),
		Downstream: opts.Downstream,
	})
	if result != nil && len(result.Results) > 0 {
		printResults(out, result)
	}
	return err
}
