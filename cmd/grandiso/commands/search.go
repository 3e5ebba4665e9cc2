package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/motif"
)

var searchOpts struct {
	output   outputOpts
	directed bool
	induced  bool
	timeout  time.Duration
}

var searchCmd = &cobra.Command{
	Use:   "search <motif> <host>",
	Short: "Find every match in one process",
	Long: `Run init, run and results against in-memory backends. The queue, result
store and job registry are discarded on exit.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := motif.Load(args[0], searchOpts.directed)
		if err != nil {
			return err
		}

		local := cfg
		local.Queue, local.Results, local.Jobs = "memory://search", "memory://search", "memory://search"
		local.Host = args[1]

		a, err := openEngine(ctx, local, local.Host, "")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.engine.Init(ctx, engine.InitRequest{
			Motif:   m,
			Induced: searchOpts.induced,
			Timeout: searchOpts.timeout,
			Host:    local.Host,
		})
		if err != nil {
			return err
		}
		stats, err := a.engine.Run(ctx, job.ID)
		if err != nil {
			return err
		}
		logger.Info("Search finished", "job", job.ID, "status", stats.Status, "processed", stats.Processed, "elapsed", stats.Elapsed)
		if stats.Status != jobs.StatusDrained {
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Deadline reached; results are partial."))
		}
		return writeResults(ctx, cmd.OutOrStdout(), a.engine, job.ID, searchOpts.output)
	},
}

func init() {
	searchOpts.output.register(searchCmd)
	f := searchCmd.Flags()
	f.BoolVar(&searchOpts.directed, "directed", false, "treat the motif as directed when the file does not say")
	f.BoolVar(&searchOpts.induced, "induced", false, "reject matches with host edges the motif lacks")
	f.DurationVar(&searchOpts.timeout, "timeout", 0, "stop after this long")
	rootCmd.AddCommand(searchCmd)
}
