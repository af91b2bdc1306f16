package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// lineageOptions holds the lineage command's flags.
type lineageOptions struct {
	Upstream   bool
	Downstream bool
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &lineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <selector>",
		Short: "Show a node's upstream and downstream dependencies",
		Long: `Resolve the selector against the project graph and print everything
the node depends on and everything that depends on it, in dependency
order. The selector matches a unique ID, a bare name, or package.name.`,
		Example: `  # Full lineage for a model
  leapdbt lineage stg_orders

  # Only what stg_orders feeds into
  leapdbt lineage stg_orders --downstream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "Only show upstream dependencies")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Only show downstream dependents")

	return cmd
}

func runLineage(cmd *cobra.Command, selector string, opts *lineageOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	if _, err := eng.Parse(); err != nil {
		return err
	}

	ids, err := eng.ResolveSelection([]string{selector})
	if err != nil {
		return err
	}

	// Neither flag means both directions.
	upstream := opts.Upstream || !opts.Downstream
	downstream := opts.Downstream || !opts.Upstream

	out := cmd.OutOrStdout()
	graph := eng.Graph()
	for i, id := range ids {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, id)
		if upstream {
			printLineageSection(out, "Upstream", graph.Ancestors(id))
		}
		if downstream {
			printLineageSection(out, "Downstream", graph.Descendants(id))
		}
	}
	return nil
}

func printLineageSection(out io.Writer, title string, ids []string) {
	fmt.Fprintf(out, "\n%s:\n", title)
	if len(ids) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(out, "  %s\n", id)
	}
}
