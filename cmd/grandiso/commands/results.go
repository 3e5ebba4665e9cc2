package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/engine/filter"
	"github.com/DrSkyle/grandiso/pkg/engine/report"
)

type outputOpts struct {
	format string
	output string
	where  string
}

func (o *outputOpts) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", string(report.FormatTable), fmt.Sprintf("output format %v", report.Formats))
	f.StringVarP(&o.output, "output", "o", "", "write to a file instead of stdout")
	f.StringVar(&o.where, "where", "", `CEL filter over each match, e.g. m["a"] != "x" || attrs[m["b"]]["type"] == "neuron"`)
}

var resultsOpts outputOpts

var resultsCmd = &cobra.Command{
	Use:   "results <job>",
	Short: "Print a job's matches",
	Long:  `Print the matches found so far. The set is partial until the job drains.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Only attribute filters need the host graph.
		hostRef, jobID := "", ""
		if resultsOpts.where != "" {
			hostRef, jobID = cfg.Host, args[0]
		}
		a, err := openEngine(ctx, cfg, hostRef, jobID)
		if err != nil {
			return err
		}
		defer a.Close()
		return writeResults(ctx, cmd.OutOrStdout(), a.engine, args[0], resultsOpts)
	},
}

func init() {
	resultsOpts.register(resultsCmd)
	rootCmd.AddCommand(resultsCmd)
}

// writeResults filters and renders a job's results. Columns follow the
// motif's node order.
func writeResults(ctx context.Context, w io.Writer, e *engine.Engine, jobID string, o outputOpts) error {
	format, err := report.ParseFormat(o.format)
	if err != nil {
		return err
	}
	job, err := e.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	rs, err := e.Results(ctx, jobID)
	if err != nil {
		return err
	}

	if o.where != "" {
		f, err := filter.New(o.where, e.Host)
		if err != nil {
			return err
		}
		if rs, err = f.Apply(ctx, rs); err != nil {
			return err
		}
	}

	columns := report.Columns(rs)
	if m, err := job.BuildMotif(); err == nil {
		columns = m.NodeIDs()
	}
	if o.output != "" {
		if err := report.WriteFile(o.output, format, columns, rs); err != nil {
			return err
		}
		logger.Info("Results written", "job", jobID, "path", o.output, "count", len(rs))
		return nil
	}
	return report.Write(w, format, columns, rs)
}
