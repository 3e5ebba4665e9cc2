// Package tui renders a live progress view of one search job.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/jobs"
)

// PollFunc fetches the current job report.
type PollFunc func(ctx context.Context) (engine.Report, error)

type Model struct {
	spinner  spinner.Model
	progress progress.Model
	poll     PollFunc
	interval time.Duration

	// state
	report   engine.Report
	polled   bool
	err      error
	quitting bool
	width    int

	// peak is the deepest queue seen; progress is measured against it.
	peak      int64
	startTime time.Time
	now       func() time.Time
}

type tickMsg time.Time

type reportMsg struct {
	report engine.Report
	err    error
}

// NewModel polls every interval until the job is drained or cancelled.
func NewModel(poll PollFunc, interval time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		spinner:   s,
		progress:  progress.New(progress.WithGradient("#00FF99", "#00CCFF")),
		poll:      poll,
		interval:  interval,
		startTime: time.Now(),
		now:       time.Now,
		width:     80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval*5)
		defer cancel()
		r, err := m.poll(ctx)
		return reportMsg{report: r, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Done reports whether the job reached a terminal state.
func (m Model) Done() bool {
	if !m.polled {
		return false
	}
	return m.report.Status == jobs.StatusDrained || m.report.Status == jobs.StatusCancelled
}

// Report returns the last report received.
func (m Model) Report() engine.Report { return m.report }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, msg.Width-20)
		return m, nil

	case tickMsg:
		return m, m.fetch()

	case reportMsg:
		m.err = msg.err
		if msg.err == nil {
			m.report = msg.report
			m.polled = true
			if d := depth(msg.report); d > m.peak {
				m.peak = d
			}
		}
		if m.Done() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func depth(r engine.Report) int64 { return r.Queue.Visible + r.Queue.InFlight }

// drainedFraction is how far the queue has shrunk from its peak.
func (m Model) drainedFraction() float64 {
	if m.Done() {
		return 1
	}
	if m.peak == 0 {
		return 0
	}
	return 1 - float64(depth(m.report))/float64(m.peak)
}
