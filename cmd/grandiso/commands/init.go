package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/motif"
)

var initOpts struct {
	motif    string
	job      string
	directed bool
	induced  bool
	timeout  time.Duration
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a job and seed the queue",
	Long: `Load a motif, record a job and enqueue one backbone per candidate host
node. Motifs are read by extension: .yaml/.yml, .json (node-link), .hcl, or an
edge list for anything else. Prints the job id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cfg.Host == "" {
			return fmt.Errorf("--host is required")
		}
		m, err := motif.Load(initOpts.motif, initOpts.directed)
		if err != nil {
			return err
		}

		a, err := openEngine(ctx, cfg, cfg.Host, "")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.engine.Init(ctx, engine.InitRequest{
			JobID:   initOpts.job,
			Motif:   m,
			Induced: initOpts.induced,
			Timeout: initOpts.timeout,
			Queue:   cfg.Queue,
			Results: cfg.Results,
			Host:    cfg.Host,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

func init() {
	f := initCmd.Flags()
	f.StringVarP(&initOpts.motif, "motif", "m", "", "motif file")
	f.StringVar(&initOpts.job, "job", "", "job id (default: a new ULID)")
	f.BoolVar(&initOpts.directed, "directed", false, "treat the motif as directed when the file does not say")
	f.BoolVar(&initOpts.induced, "induced", false, "reject matches with host edges the motif lacks")
	f.DurationVar(&initOpts.timeout, "timeout", 0, "job deadline, e.g. 30m (default: none)")
	_ = initCmd.MarkFlagRequired("motif")
	rootCmd.AddCommand(initCmd)
}
