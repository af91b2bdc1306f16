// Package cli wires the leapdbt command tree: flag parsing, configuration
// loading, and logger setup happen here, then each subcommand drives the
// engine.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/cli/commands"
	"github.com/leapstack-labs/leapdbt/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapdbt",
		Short: "leapdbt - a dbt-compatible SQL build system",
		Long: `leapdbt builds SQL transformation projects: templated models with
ref()/source() dependencies, Starlark macros, seeds, and data tests,
executed in dependency order against DuckDB or Postgres.

It reads standard dbt project layouts: dbt_project.yml, profiles.yml,
models/**/*.sql, schema .yml files, and packages under dbt_packages/.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}

			cfg, err := config.Load(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			cmd.SetContext(commands.WithInvocation(cmd.Context(), cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("project-dir", "", "Project directory containing dbt_project.yml (default: search upward from cwd)")
	flags.String("profiles-dir", "", "Directory containing profiles.yml (default: project dir, then ~/.dbt)")
	flags.StringP("target", "t", "", "Profile output to use (e.g. dev, prod)")
	flags.Int("threads", 0, "Worker count for rendering (overrides the target's threads)")
	flags.String("state-path", "", "Path of the run-history database")
	flags.String("vars", "", "Template variables as an inline YAML mapping (e.g. '{start_date: 2024-01-01}')")
	flags.BoolP("verbose", "v", false, "Debug logging")

	_ = rootCmd.RegisterFlagCompletionFunc("target", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "staging", "prod"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewParseCommand())
	rootCmd.AddCommand(commands.NewCompileCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewTestCommand())
	rootCmd.AddCommand(commands.NewSeedCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewLineageCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())

	return rootCmd
}

// Execute runs the root command and reports the error on stderr.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
