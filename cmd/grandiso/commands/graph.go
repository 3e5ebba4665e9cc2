package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/backends"
)

var graphInto string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage SQL host graphs",
}

var graphLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Import an edge list or node-link JSON file into a SQL host graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		res := newResolver(cfg)
		defer res.Close()

		store, err := res.SQL(ctx, graphInto)
		if err != nil {
			return err
		}
		if err := backends.Import(ctx, args[0], store); err != nil {
			return err
		}
		nodes, edges, err := store.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s nodes, %s edges\n",
			okStyle.Render("✓"), graphInto, humanize.Comma(nodes), humanize.Comma(edges))
		return nil
	},
}

func init() {
	graphLoadCmd.Flags().StringVar(&graphInto, "into", "sqlite:///grandiso.db", "target database reference")
	graphCmd.AddCommand(graphLoadCmd)
	rootCmd.AddCommand(graphCmd)
}
