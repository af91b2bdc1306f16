package commands

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/relation"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// listOptions holds the list command's flags.
type listOptions struct {
	ResourceType string
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the project's nodes",
		Long: `Print every node the project defines - models, seeds, sources, and
tests - with its materialization, target relation, and status.`,
		Example: `  # List everything
  leapdbt list

  # Only models
  leapdbt list --resource-type model`,
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ResourceType, "resource-type", "", "Filter by node type (model|seed|source|test)")

	_ = cmd.RegisterFlagCompletionFunc("resource-type", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"model", "seed", "source", "test"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runList(cmd *cobra.Command, opts *listOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	if _, err := eng.Parse(); err != nil {
		return err
	}

	nodes := make([]*core.Node, 0, len(eng.Nodes())+len(eng.DisabledNodes()))
	for _, node := range eng.Nodes() {
		nodes = append(nodes, node)
	}
	for _, node := range eng.DisabledNodes() {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UniqueID < nodes[j].UniqueID })

	adapterType := cmdCtx.Cfg.Output.Type

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Node", "Type", "Materialized", "Relation", "Status"})

	shown := 0
	for _, node := range nodes {
		if opts.ResourceType != "" && string(node.Type) != opts.ResourceType {
			continue
		}

		materialized := ""
		if node.Type == core.NodeTypeModel {
			materialized = node.Config.Materialized
		}

		rendered := ""
		if node.Type != core.NodeTypeTest {
			if rel, err := relation.FromNode(adapterType, node); err == nil {
				rendered = rel.Render()
			}
		}

		t.AppendRow(table.Row{node.UniqueID, node.Type, materialized, rendered, node.Status})
		shown++
	}
	t.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "%d node(s)\n", shown)
	return nil
}
