// Package dashboard renders a live terminal view of the server.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brensch/pit/lobby"
	"github.com/brensch/pit/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// Snapshot is one sample of server activity.
type Snapshot struct {
	Lobbies     int
	Active      int
	Connections int64
	Moves       int64
	Finished    int64
	Archived    int64
	Recent      []protocol.RecentResult
}

// Source samples the server.
type Source func() Snapshot

// Counters are the optional gauges a Collect source reads besides the
// lobby manager.
type Counters struct {
	Connections func() int64
	Archived    func() int64
}

// Collect samples lobbies and metrics. Active counts lobbies whose machine
// is running a session or an evaluation.
func Collect(m *lobby.Manager, metrics *protocol.Metrics, c Counters) Source {
	return func() Snapshot {
		lobbies := m.List()
		snap := Snapshot{Lobbies: len(lobbies)}
		for _, l := range lobbies {
			switch l.Session.State {
			case protocol.Running.String(), protocol.Evaluating.String():
				snap.Active++
			}
		}
		if metrics != nil {
			snap.Moves = metrics.Moves.Load()
			snap.Finished = metrics.Finished.Load()
			snap.Recent = metrics.Recent()
		}
		if c.Connections != nil {
			snap.Connections = c.Connections()
		}
		if c.Archived != nil {
			snap.Archived = c.Archived()
		}
		return snap
	}
}

type tickMsg time.Time

type Model struct {
	source    Source
	interval  time.Duration
	startTime time.Time
	snap      Snapshot
}

func New(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return Model{source: source, interval: interval, startTime: time.Now(), snap: source()}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.source()
		return m, m.tick()
	}
	return m, nil
}

func (m Model) View() string {
	duration := time.Since(m.startTime)
	movesPerSec := 0.0
	if duration >= time.Second {
		movesPerSec = float64(m.snap.Moves) / duration.Seconds()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Lobbies:          %d\n", m.snap.Lobbies)
	fmt.Fprintf(&b, "Active sessions:  %d\n", m.snap.Active)
	fmt.Fprintf(&b, "Connections:      %d\n", m.snap.Connections)
	fmt.Fprintf(&b, "Moves applied:    %d\n", m.snap.Moves)
	fmt.Fprintf(&b, "Sessions done:    %d\n", m.snap.Finished)
	fmt.Fprintf(&b, "Archived:         %d\n", m.snap.Archived)
	fmt.Fprintf(&b, "Uptime:           %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Moves/Sec:        %.2f\n\n", movesPerSec)

	b.WriteString("Recent Results:\n")
	for i := len(m.snap.Recent) - 1; i >= 0; i-- {
		r := m.snap.Recent[i]
		fmt.Fprintf(&b, "%s %s %-20s %-9s plies %d\n",
			r.At.Format(time.TimeOnly), shortID(r.Session), r.Mode, winner(r.Winner), r.Plies)
	}

	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

func winner(w int) string {
	switch {
	case w > 0:
		return "p1 won"
	case w < 0:
		return "p2 won"
	}
	return "draw"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
