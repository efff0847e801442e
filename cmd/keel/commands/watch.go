package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/manifest"
)

func newWatchCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "watch <path>...",
		Short: "Re-validate manifests on change",
		Long: `Watch manifest sources and re-run the full validation pipeline on
every change.

A report is printed after each run. The command runs until interrupted.`,
		Example: `  # Watch a manifest directory
  keel watch ./arch

  # Watch with custom policies
  keel watch ./arch --policy-dir ./policies`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger
			out := cmd.OutOrStdout()

			parser := manifest.NewParser(logger)

			report := func(m *manifest.Manifest) {
				rep, err := runValidation(ctx, logger, m, validationOptions{policyDirs: policyDirs})
				if err != nil {
					log.Error().Err(err).Msg("Validation run failed")
					return
				}
				if jsonOutput {
					if err := renderJSON(out, rep); err != nil {
						log.Error().Err(err).Msg("Failed to render report")
					}
					return
				}
				renderHuman(out, rep)
			}

			m, err := parser.Parse(ctx, args)
			if err != nil {
				return err
			}
			report(m)

			watcher := manifest.NewWatcher(parser, logger)
			defer func() {
				if err := watcher.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close watcher")
				}
			}()
			if err := watcher.Watch(ctx, args, report); err != nil {
				return err
			}

			log.Info().Strs("paths", args).Msg("Watching for changes")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&policyDirs, "policy-dir", nil, "custom policy file or directory (repeatable)")

	return cmd
}
