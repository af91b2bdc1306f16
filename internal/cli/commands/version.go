package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand reports the binary version.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the leapdbt version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapdbt v%s\n", version)
		},
	}
}
