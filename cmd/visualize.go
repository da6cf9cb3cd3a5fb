package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l7mp/reflow/pkg/compiler"
	"github.com/l7mp/reflow/pkg/dbsp"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/store"
	"github.com/l7mp/reflow/pkg/transport"
	"github.com/l7mp/reflow/pkg/visualize"
)

var format string

var visualizeCmd = &cobra.Command{
	Use:   "visualize [query-file]",
	Short: "Render a query's compiled operator graph as a diagram",
	Long: `Compiles the query in the given file (a register frame in wire form)
against the manifest's attribute schema and prints the operator graph.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setupLogger()
		if err != nil {
			return err
		}

		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var f transport.Frame
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		p, err := plan.UnmarshalNode(f.Plan)
		if err != nil {
			return err
		}

		st := store.New(log)
		if manifest != "" {
			m, err := transport.LoadManifest(manifest)
			if err != nil {
				return err
			}
			for name, cfg := range m.Attributes {
				if err := st.CreateAttribute(name, cfg); err != nil {
					return err
				}
			}
		}

		c := compiler.New(dbsp.NewGraph(log), log)
		cq, err := c.CompileQuery(f.Name, p, f.Rules, st)
		if err != nil {
			return err
		}

		g := visualize.BuildGraph(f.Name, cq.Output)
		switch format {
		case "dot":
			gen := &visualize.DotGenerator{}
			fmt.Fprint(cmd.OutOrStdout(), gen.Generate(g))
		case "mermaid":
			gen := &visualize.MermaidGenerator{}
			fmt.Fprint(cmd.OutOrStdout(), gen.Generate(g))
		case "summary":
			fmt.Fprint(cmd.OutOrStdout(), visualize.Summary(g))
		default:
			return fmt.Errorf("unknown format %q", format)
		}
		return nil
	},
}

func init() {
	visualizeCmd.Flags().StringVar(&format, "format", "dot", "Output format: dot, mermaid or summary.")
	visualizeCmd.Flags().StringVar(&manifest, "manifest", "", "Path of the YAML attribute manifest to compile against.")
	rootCmd.AddCommand(visualizeCmd)
}
