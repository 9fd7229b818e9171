// Package tui is the live terminal dashboard for evaluation runs. It
// polls the run store, supports fuzzy filtering, and colors decisions by
// severity.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/apm-labs/apm/internal/core"
)

// RunLister is the slice of the run store the dashboard needs.
type RunLister interface {
	List(ctx context.Context, filter core.RunFilter) ([]*core.EvaluationRun, error)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultListLimit    = 100
	fetchTimeout        = 5 * time.Second
)

type runsMsg struct {
	runs []*core.EvaluationRun
	err  error
}

type pollTickMsg time.Time

// Model is the watch dashboard state.
type Model struct {
	runs     RunLister
	interval time.Duration

	spinner   spinner.Model
	filter    textinput.Model
	filtering bool

	all      []*core.EvaluationRun
	visible  []*core.EvaluationRun
	selected int

	width   int
	height  int
	loading bool
	lastErr error
}

// NewModel creates a dashboard backed by the given run store.
func NewModel(runs RunLister) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	ti := textinput.New()
	ti.Placeholder = "Filter runs..."
	ti.CharLimit = 128
	ti.Width = 40

	return Model{
		runs:     runs,
		interval: defaultPollInterval,
		spinner:  sp,
		filter:   ti,
		loading:  true,
		width:    100,
	}
}

// WithPollInterval overrides how often the store is re-queried.
func (m Model) WithPollInterval(d time.Duration) Model {
	if d > 0 {
		m.interval = d
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), m.pollTick())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		runs, err := m.runs.List(ctx, core.RunFilter{Limit: defaultListLimit})
		return runsMsg{runs: runs, err: err}
	}
}

func (m Model) pollTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case runsMsg:
		m.loading = false
		m.lastErr = msg.err
		if msg.err == nil {
			m.all = msg.runs
			m.applyFilter()
		}
		return m, nil

	case pollTickMsg:
		return m, tea.Batch(m.fetch(), m.pollTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filter.Blur()
			m.filter.SetValue("")
			m.applyFilter()
			return m, nil
		case "enter":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "/":
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "down", "j":
		if m.selected < len(m.visible)-1 {
			m.selected++
		}
		return m, nil
	case "r":
		m.loading = true
		return m, m.fetch()
	}

	return m, nil
}

// applyFilter narrows the visible runs by fuzzy-matching the filter text
// against id, character, status, and decision.
func (m *Model) applyFilter() {
	query := strings.TrimSpace(m.filter.Value())
	if query == "" {
		m.visible = m.all
	} else {
		haystack := make([]string, len(m.all))
		for i, run := range m.all {
			haystack[i] = strings.Join([]string{
				string(run.ID),
				string(run.CharacterID),
				string(run.Status),
				string(run.Decision),
			}, " ")
		}
		matches := fuzzy.Find(query, haystack)
		m.visible = make([]*core.EvaluationRun, len(matches))
		for i, match := range matches {
			m.visible[i] = m.all[match.Index]
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = 0
	}
}

// Selected returns the currently highlighted run, or nil.
func (m Model) Selected() *core.EvaluationRun {
	if m.selected < 0 || m.selected >= len(m.visible) {
		return nil
	}
	return m.visible[m.selected]
}

const rowFormat = "%-10s  %-20s  %-7s  %-13s  %-12s  %7s  %s"

func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render("APM Evaluation Runs")
	if m.loading {
		title += " " + m.spinner.View()
	}
	b.WriteString(title + "\n\n")

	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View() + "\n\n")
	}

	if m.lastErr != nil {
		b.WriteString(errStyle.Render("store error: "+m.lastErr.Error()) + "\n\n")
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf(rowFormat,
		"RUN", "CHARACTER", "MOD", "STATUS", "DECISION", "SCORE", "AGE")) + "\n")

	for i, run := range m.visible {
		line := fmt.Sprintf(rowFormat,
			shortID(string(run.ID)),
			truncate(string(run.CharacterID), 20),
			run.Modality,
			run.Status,
			decisionStyle(string(run.Decision)).Render(decisionCell(run)),
			scoreCell(run),
			age(run.CreatedAt),
		)
		if i == m.selected {
			b.WriteString(selectedRowStyle.Render(line) + "\n")
		} else {
			b.WriteString(rowStyle.Render(line) + "\n")
		}
	}

	if len(m.visible) == 0 && m.lastErr == nil && !m.loading {
		b.WriteString(statusBarStyle.Render("no runs") + "\n")
	}

	b.WriteString("\n" + statusBarStyle.Render(
		fmt.Sprintf("%d runs  •  / filter  •  r refresh  •  q quit", len(m.visible))))

	return b.String()
}

func decisionCell(run *core.EvaluationRun) string {
	if run.Decision == "" {
		return "-"
	}
	return string(run.Decision)
}

func scoreCell(run *core.EvaluationRun) string {
	if run.OverallScore == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *run.OverallScore)
}

func shortID(id string) string {
	return truncate(id, 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(runs RunLister) error {
	p := tea.NewProgram(NewModel(runs), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
