package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/DrSkyle/grandiso/pkg/jobs"
)

var (
	special  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
	subtle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	title    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CCFF"))
	warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	danger   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

func statusStyle(s jobs.Status) lipgloss.Style {
	switch s {
	case jobs.StatusDrained:
		return special.Bold(true)
	case jobs.StatusCancelled:
		return danger.Bold(true)
	case jobs.StatusInitializing:
		return warn
	default:
		return title
	}
}

func (m Model) View() string {
	var s strings.Builder
	job := m.report.Job

	s.WriteString(title.Render("GRANDISO"))
	if job.ID != "" {
		s.WriteString(dimStyle.Render("  job " + job.ID))
	}
	s.WriteString("\n\n")

	if !m.polled {
		if m.err != nil {
			return s.String() + danger.Render("  "+m.err.Error()) + "\n"
		}
		return s.String() + fmt.Sprintf("  %s Waiting for job status...\n", m.spinner.View())
	}

	status := statusStyle(m.report.Status).Render(strings.ToUpper(string(m.report.Status)))
	if !m.Done() {
		status = m.spinner.View() + " " + status
	}
	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("  %s %s\n", dimStyle.Render(fmt.Sprintf("%-12s", label)), value))
	}

	row("Status", status)
	row("Queue", fmt.Sprintf("%s visible, %s in flight",
		humanize.Comma(m.report.Queue.Visible), humanize.Comma(m.report.Queue.InFlight)))
	row("Results", special.Render(humanize.Comma(int64(m.report.Results))))
	row("Seeds", fmt.Sprintf("%s backbones, %s direct results",
		humanize.Comma(job.Seeds), humanize.Comma(job.SeedResults)))
	if job.Induced {
		row("Mode", "induced")
	}
	if !job.CreatedAt.IsZero() {
		row("Started", humanize.RelTime(job.CreatedAt, m.now(), "ago", "from now"))
	}
	if !job.Deadline.IsZero() {
		row("Deadline", humanize.RelTime(job.Deadline, m.now(), "ago", "from now"))
	}
	row("Watching", m.now().Sub(m.startTime).Round(time.Second).String())

	s.WriteString("\n  " + m.progress.ViewAs(m.drainedFraction()) + "\n")
	if m.err != nil {
		s.WriteString("\n  " + warn.Render("poll failed: "+m.err.Error()) + "\n")
	}
	s.WriteString("\n" + subtle.Render("  q: quit") + "\n")
	return s.String()
}
