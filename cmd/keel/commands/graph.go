package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/manifest"
)

func newGraphCommand() *cobra.Command {
	var (
		kind string
		dot  bool
	)

	cmd := &cobra.Command{
		Use:   "graph <path>...",
		Short: "Print the dependency graph",
		Long: `Print the component dependency graph in topological order or as
Graphviz DOT.

The topological order lists dependents before their dependencies: the
orchestrator comes first, terminal layers last. --kind selects the
capability graph, the context graph, or the combined view.`,
		Example: `  # Topological order of the combined graph
  keel graph ./arch

  # Context graph only
  keel graph ./arch --kind context

  # Graphviz output
  keel graph ./arch --dot | dot -Tsvg -o arch.svg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			parser := manifest.NewParser(logger)
			m, err := parser.Parse(ctx, args)
			if err != nil {
				return err
			}
			if !m.Valid() {
				for _, e := range m.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", e.String())
				}
				return arch.NewUsageError(fmt.Sprintf("manifest has %d problems", len(m.Errors)), nil).
					WithCode(arch.ErrCodeManifestInvalid)
			}

			graph, err := m.Graph(logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dot {
				fmt.Fprint(out, graph.ToDOT())
				return nil
			}

			var order []string
			switch kind {
			case "combined":
				order, err = graph.TopologicalSort()
			case "capability":
				order, err = graph.TopologicalSortKind(arch.GraphKindCapability)
			case "context":
				order, err = graph.TopologicalSortKind(arch.GraphKindContext)
			default:
				return fmt.Errorf("unknown graph kind %q (want capability, context, or combined)", kind)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"kind":  kind,
					"order": order,
				})
			}
			for _, name := range order {
				if layer, ok := m.LayerOf(name); ok {
					fmt.Fprintf(out, "%s (%s)\n", name, layer)
				} else {
					fmt.Fprintln(out, name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "combined", "graph to order: capability, context, or combined")
	cmd.Flags().BoolVar(&dot, "dot", false, "emit Graphviz DOT instead of a topological order")

	return cmd
}
