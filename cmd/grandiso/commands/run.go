package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/engine"
)

var runOpts struct {
	metricsAddr string
	profile     string
	profileDir  string
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Expand backbones until the job drains or is cancelled",
	Long: `Attach a worker pool to the queue. Any number of run processes may serve
the same job. The host graph comes from --host or the job record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		switch runOpts.profile {
		case "":
		case "cpu":
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(runOpts.profileDir), profile.Quiet).Stop()
		case "mem":
			defer profile.Start(profile.MemProfile, profile.ProfilePath(runOpts.profileDir), profile.Quiet).Stop()
		default:
			return fmt.Errorf("unknown profile %q: want cpu or mem", runOpts.profile)
		}

		a, err := openEngine(ctx, cfg, cfg.Host, jobID)
		if err != nil {
			return err
		}
		defer a.Close()

		if runOpts.metricsAddr != "" {
			srv := &http.Server{Addr: runOpts.metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server failed", "addr", runOpts.metricsAddr, "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("Serving metrics", "addr", runOpts.metricsAddr)
		}

		stats, err := a.engine.Run(ctx, jobID)
		out := cmd.OutOrStdout()
		if errors.Is(err, engine.ErrJobCancelled) {
			fmt.Fprintln(out, warnStyle.Render("Job "+jobID+" is cancelled."))
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s: processed %s backbones in %s (%s errors, %s throttled)\n",
			okStyle.Render(string(stats.Status)), jobID,
			humanize.Comma(stats.Processed), stats.Elapsed.Round(time.Millisecond),
			humanize.Comma(stats.Errors), humanize.Comma(stats.Throttled))
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.Int("batch-size", 10, "backbones received per queue call (1-10)")
	f.Duration("lease", 30*time.Second, "visibility timeout of a received backbone")
	f.Int("concurrency", 4, "initial worker count")
	f.Int("max-concurrency", 64, "worker count ceiling")
	f.Bool("inline", true, "expand a backbone with one successor without re-queueing it")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&runOpts.profile, "pprof", "", "write a cpu or mem profile")
	f.StringVar(&runOpts.profileDir, "pprof-dir", ".", "directory for profiles")

	bind(f, "worker.batch_size", "batch-size")
	bind(f, "worker.lease", "lease")
	bind(f, "worker.concurrency", "concurrency")
	bind(f, "worker.max_concurrency", "max-concurrency")
	bind(f, "worker.inline", "inline")
	rootCmd.AddCommand(runCmd)
}
