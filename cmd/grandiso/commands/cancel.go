package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelOpts struct {
	purge  bool
	forget bool
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job>",
	Short: "Stop a job",
	Long: `Mark a job cancelled. Workers drop its backbones as they receive them.
--purge empties the queue, which also discards other jobs' backbones sharing it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openEngine(ctx, cfg, "", "")
		if err != nil {
			return err
		}
		defer a.Close()

		jobID := args[0]
		if err := a.engine.Cancel(ctx, jobID, cancelOpts.purge); err != nil {
			return err
		}
		if cancelOpts.forget {
			if err := a.engine.Forget(ctx, jobID); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("Cancelled "+jobID))
		return nil
	},
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelOpts.purge, "purge", false, "empty the queue")
	cancelCmd.Flags().BoolVar(&cancelOpts.forget, "forget", false, "also delete the job record and its results")
	rootCmd.AddCommand(cancelCmd)
}
