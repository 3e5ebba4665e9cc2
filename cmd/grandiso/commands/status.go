package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/tui"
)

var (
	statusJSON    bool
	watchInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <job>",
	Short: "Show a job's state, queue depth and result count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context(), cfg, "", "")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.engine.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		printReport(cmd.OutOrStdout(), r)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job>",
	Short: "Follow a job until it drains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context(), cfg, "", "")
		if err != nil {
			return err
		}
		defer a.Close()

		jobID := args[0]
		m := tui.NewModel(func(ctx context.Context) (engine.Report, error) {
			return a.engine.Status(ctx, jobID)
		}, watchInterval)
		final, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
		if err != nil {
			return err
		}
		if fm, ok := final.(tui.Model); ok && fm.Done() {
			printReport(cmd.OutOrStdout(), fm.Report())
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "poll interval")
	rootCmd.AddCommand(statusCmd, watchCmd)
}

func printReport(w io.Writer, r engine.Report) {
	style := okStyle
	switch r.Status {
	case jobs.StatusCancelled:
		style = errStyle
	case jobs.StatusInitializing, jobs.StatusRunning:
		style = warnStyle
	}
	mode := "monomorphism"
	if r.Job.Induced {
		mode = "induced"
	}

	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Job "+r.Job.ID), style.Render(string(r.Status)))
	fmt.Fprintf(w, "  %-10s %s\n", "Mode", mode)
	fmt.Fprintf(w, "  %-10s %s\n", "Motif", r.Job.MotifDigest)
	if r.Job.Host != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "Host", r.Job.Host)
	}
	fmt.Fprintf(w, "  %-10s %s (%s seed results)\n", "Seeds", humanize.Comma(r.Job.Seeds), humanize.Comma(r.Job.SeedResults))
	fmt.Fprintf(w, "  %-10s %s visible, %s in flight\n", "Queue", humanize.Comma(r.Queue.Visible), humanize.Comma(r.Queue.InFlight))
	fmt.Fprintf(w, "  %-10s %s\n", "Results", humanize.Comma(int64(r.Results)))
	fmt.Fprintf(w, "  %-10s %s\n", "Created", humanize.Time(r.Job.CreatedAt))
	if !r.Job.Deadline.IsZero() {
		fmt.Fprintf(w, "  %-10s %s\n", "Deadline", humanize.Time(r.Job.Deadline))
	}
}
