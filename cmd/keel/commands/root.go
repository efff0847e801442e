package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
)

// Execute builds the root command and runs it with the given context.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Keel - Layered Architecture Validator",
		Long: `Keel validates layered architecture manifests: typed component
declarations organized into six layers, with directional dependency
rules between them.

Features:
  - Typed CUE manifests with Starlark component generators
  - Capability and context dependency graphs with cycle detection
  - Layer flow analysis (downstream-only, terminal layers)
  - Context isolation checks between named modules
  - Policy enforcement via Rego rule packs
  - Watch mode with automatic re-validation`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
