package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/manifest"
)

func newValidateCommand() *cobra.Command {
	var (
		strict      bool
		yamlOutput  bool
		policyDirs  []string
		descriptors []string
	)

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate architecture manifests",
		Long: `Validate CUE architecture manifests.

This command checks:
  - CUE syntax and schema conformance
  - Dependency cycles in the capability and context graphs
  - Layer flow rules (downstream-only, terminal layers)
  - Context isolation between components
  - Policy compliance (builtin packs plus custom Rego)

The exit code is non-zero when any blocking finding is present, or when
--strict is set and warnings were reported.`,
		Example: `  # Validate a manifest directory
  keel validate ./arch

  # Validate specific files with custom policies
  keel validate arch.cue extra.cue --policy-dir ./policies

  # Machine-readable report
  keel validate ./arch --json

  # Treat warnings as failures
  keel validate ./arch --strict`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			log.Info().
				Strs("paths", args).
				Bool("strict", strict).
				Msg("Validating manifest")

			parser := manifest.NewParser(logger)
			m, err := parser.Parse(ctx, args)
			if err != nil {
				return err
			}

			report, err := runValidation(ctx, logger, m, validationOptions{
				policyDirs:  policyDirs,
				descriptors: descriptors,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case jsonOutput:
				if err := renderJSON(out, report); err != nil {
					return err
				}
			case yamlOutput:
				if err := renderYAML(out, report); err != nil {
					return err
				}
			default:
				renderHuman(out, report)
			}

			if !report.Valid {
				if len(report.ManifestErrors) > 0 {
					return arch.NewUsageError("manifest validation failed", nil).
						WithCode(arch.ErrCodeManifestInvalid)
				}
				return fmt.Errorf("validation failed")
			}
			if strict && report.WarningCount() > 0 {
				return fmt.Errorf("validation failed: %d warnings in strict mode", report.WarningCount())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as failures")
	cmd.Flags().BoolVar(&yamlOutput, "yaml", false, "output in YAML format")
	cmd.Flags().StringArrayVar(&policyDirs, "policy-dir", nil, "custom policy file or directory (repeatable)")
	cmd.Flags().StringArrayVar(&descriptors, "descriptor", nil, "module descriptor YAML file to check (repeatable)")

	return cmd
}
