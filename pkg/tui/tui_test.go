package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/queue"
)

// scripted returns the given reports in order, repeating the last one.
func scripted(reports ...engine.Report) PollFunc {
	i := 0
	return func(context.Context) (engine.Report, error) {
		r := reports[i]
		if i < len(reports)-1 {
			i++
		}
		return r, nil
	}
}

func report(status jobs.Status, visible, inflight int64, results int) engine.Report {
	return engine.Report{
		Job:     jobs.Job{ID: "tri", Status: jobs.StatusRunning, Seeds: 6, CreatedAt: time.Now().Add(-time.Minute)},
		Status:  status,
		Queue:   queue.Stats{Visible: visible, InFlight: inflight},
		Results: results,
	}
}

// step feeds the poll result for one fetch into the model.
func step(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.fetch()()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestTUI_TracksProgress(t *testing.T) {
	m := NewModel(scripted(
		report(jobs.StatusRunning, 1200, 40, 3),
		report(jobs.StatusRunning, 300, 10, 1500),
		report(jobs.StatusDrained, 0, 0, 2000),
	), time.Millisecond)

	view := m.View()
	if !strings.Contains(view, "Waiting") {
		t.Errorf("Expected waiting view before first poll.\nGot:\n%s", view)
	}

	m = step(t, m)
	view = m.View()
	for _, want := range []string{"job tri", "RUNNING", "1,200 visible", "40 in flight", "6 backbones"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected view to contain %q.\nGot:\n%s", want, view)
		}
	}
	if m.Done() {
		t.Fatal("running job reported done")
	}

	m = step(t, m)
	if f := m.drainedFraction(); f < 0.7 || f > 0.8 {
		t.Errorf("drainedFraction = %f, want 1-310/1240", f)
	}
	if !strings.Contains(m.View(), "1,500") {
		t.Errorf("Expected result count in view.\nGot:\n%s", m.View())
	}

	msg := m.fetch()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if !m.Done() || cmd == nil {
		t.Fatal("drained job should quit")
	}
	if !strings.Contains(m.View(), "DRAINED") {
		t.Errorf("Expected DRAINED.\nGot:\n%s", m.View())
	}
}

func TestTUI_PollError(t *testing.T) {
	m := NewModel(func(context.Context) (engine.Report, error) {
		return engine.Report{}, errors.New("queue unreachable")
	}, time.Millisecond)
	m = step(t, m)
	if !strings.Contains(m.View(), "queue unreachable") {
		t.Errorf("Expected error in view.\nGot:\n%s", m.View())
	}
	if m.Done() {
		t.Error("errors are not terminal")
	}
}

func TestTUI_QuitKey(t *testing.T) {
	m := NewModel(scripted(report(jobs.StatusRunning, 1, 0, 0)), time.Millisecond)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !next.(Model).quitting {
		t.Error("q should quit")
	}
}
