package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/cellsim/internal/jobs"
)

const (
	historyCapacity = 600
	pollLimit       = 500
	defaultInterval = 500 * time.Millisecond
)

// Source is where the monitor reads job state from.
type Source interface {
	GetJob(ctx context.Context, id string) (jobs.Record, error)
	ReadAfter(ctx context.Context, id string, after *float64, limit int) ([]jobs.Timestep, error)
}

type pollMsg struct {
	rec   jobs.Record
	steps []jobs.Timestep
	err   error
}

type tickMsg time.Time

// Monitor follows one job until it reaches a terminal status.
type Monitor struct {
	src      Source
	id       string
	cancel   func() bool
	interval time.Duration
	theme    Theme
	width    int

	rec      jobs.Record
	steps    []jobs.Timestep
	after    *float64
	species  []string
	selected int
	err      error
	notice   string
	done     bool
}

type MonitorOption func(*Monitor)

// WithCancel lets the C key cancel the job.
func WithCancel(cancel func() bool) MonitorOption {
	return func(m *Monitor) { m.cancel = cancel }
}

func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithSpecies(species ...string) MonitorOption {
	return func(m *Monitor) { m.species = species }
}

func WithTheme(name string) MonitorOption {
	return func(m *Monitor) { m.theme = GetTheme(name) }
}

func NewMonitor(src Source, id string, opts ...MonitorOption) Monitor {
	m := Monitor{
		src:      src,
		id:       id,
		interval: defaultInterval,
		theme:    ThemeLab,
		width:    60,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts the program on the terminal and returns the last seen record.
func (m Monitor) Run() (jobs.Record, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return m.rec, err
	}
	fm := final.(Monitor)
	return fm.rec, fm.err
}

func (m Monitor) Init() tea.Cmd {
	return m.poll()
}

func (m Monitor) poll() tea.Cmd {
	src, id, after := m.src, m.id, m.after
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rec, err := src.GetJob(ctx, id)
		if err != nil {
			return pollMsg{err: err}
		}
		steps, err := src.ReadAfter(ctx, id, after, pollLimit)
		return pollMsg{rec: rec, steps: steps, err: err}
	}
}

func (m Monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if n := len(m.species); n > 0 {
				m.selected = (m.selected + 1) % n
			}
		case "t":
			m.theme = NextTheme(m.theme)
		case "c":
			if m.cancel == nil {
				m.notice = "cancel not available"
			} else if m.cancel() {
				m.notice = "cancellation requested"
			} else {
				m.notice = "job is not running"
			}
		}
	case tea.WindowSizeMsg:
		m.width = max(30, msg.Width-30)
	case tickMsg:
		return m, m.poll()
	case pollMsg:
		m = m.apply(msg)
		if m.done {
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}

func (m Monitor) apply(msg pollMsg) Monitor {
	if msg.err != nil {
		m.err = msg.err
		m.done = true
		return m
	}
	m.rec = msg.rec
	if len(msg.steps) > 0 {
		m.steps = append(m.steps, msg.steps...)
		if len(m.steps) > historyCapacity {
			m.steps = append([]jobs.Timestep(nil), m.steps[len(m.steps)-historyCapacity:]...)
		}
		last := msg.steps[len(msg.steps)-1].Time
		m.after = &last
		if len(m.species) == 0 {
			m.species = PickSpecies(m.steps, nil, 3)
		}
	}
	// Terminal and drained.
	m.done = m.rec.Status.Terminal() && len(msg.steps) < pollLimit
	return m
}

func (m Monitor) View() string {
	var s strings.Builder
	title := lipgloss.NewStyle().Foreground(m.theme.Primary).Render("SIMULATION " + m.id)
	s.WriteString(headerStyle.Render(title) + "\n\n")

	if m.err != nil {
		s.WriteString(lipgloss.NewStyle().Foreground(m.theme.Error).Render("error: "+m.err.Error()) + "\n")
		return panelStyle.Render(s.String())
	}

	s.WriteString(StatusBadge(m.theme, m.rec.Status) + "  " + ProgressBar(m.rec.Progress(), 30) +
		fmt.Sprintf(" %5.1f%%\n\n", m.rec.Progress()))
	s.WriteString(row("Sim time", "%.1f / %.1f s", m.rec.CurrentTime, m.rec.TotalTime))
	s.WriteString(row("Timestep", "%g s", m.rec.Dt))
	if m.rec.ErrorMessage != nil {
		s.WriteString(row("Message", "%s", *m.rec.ErrorMessage))
	}

	if len(m.steps) > 0 {
		latest := m.steps[len(m.steps)-1]
		s.WriteString("\n")
		for _, sp := range m.species {
			if v, ok := latest.Value(sp); ok {
				s.WriteString(row(sp, "%.4g mM", v))
			}
		}
		if r, ok := latest.CellMetrics["energy_charge"]; ok {
			s.WriteString(row("Energy charge", "%.3f", r))
		}
		if ratio, ok := Trajectory(m.steps, "ATP_ADP_ratio"); ok {
			s.WriteString(labelStyle.Render("ATP/ADP") + Sparkline(ratio, 30) + "\n")
		}
	}

	if len(m.species) > 0 && len(m.steps) > 1 {
		sp := m.species[m.selected%len(m.species)]
		if chart, err := Plot(m.steps, []string{sp}, m.width, 8); err == nil {
			s.WriteString(graphStyle.Render(sp+"\n"+chart) + "\n")
		}
	}

	if m.notice != "" {
		s.WriteString(lipgloss.NewStyle().Foreground(m.theme.Warning).Render(m.notice) + "\n")
	}
	s.WriteString(keyHint.Render("\nTab:Species  C:Cancel  T:Theme  Q:Quit"))
	return panelStyle.Render(s.String())
}
