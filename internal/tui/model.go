// Package tui provides a live progress view for a run, built on
// bubbletea. The coordinator feeds it unit status transitions through an
// observer; the view renders one line per unit plus a running tally.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loomlang/loom/internal/unit"
)

// ProgressMsg reports one unit's status transition.
type ProgressMsg struct {
	UnitID string
	Status unit.Status
	Round  int
}

// FinishedMsg tells the view the run is over.
type FinishedMsg struct{}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Model is the bubbletea model for run progress.
type Model struct {
	order  []string
	status map[string]unit.Status
	rounds map[string]int
	quit   bool
}

// NewModel creates a Model tracking the given units in order.
func NewModel(units []unit.Unit) Model {
	m := Model{
		status: make(map[string]unit.Status, len(units)),
		rounds: make(map[string]int, len(units)),
	}
	for _, u := range units {
		m.order = append(m.order, u.ID)
		m.status[u.ID] = unit.StatusPending
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		if _, known := m.status[msg.UnitID]; !known {
			m.order = append(m.order, msg.UnitID)
		}
		m.status[msg.UnitID] = msg.Status
		m.rounds[msg.UnitID] = msg.Round
		return m, nil
	case FinishedMsg:
		m.quit = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quit = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quit {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("loom"))
	b.WriteString("\n")

	var done, failed, cancelled, active int
	for _, id := range m.order {
		status := m.status[id]
		line := fmt.Sprintf("  %-30s %s", id, statusLabel(status, m.rounds[id]))
		b.WriteString(styleFor(status).Render(line))
		b.WriteString("\n")

		switch status {
		case unit.StatusDone:
			done++
		case unit.StatusFailed:
			failed++
		case unit.StatusCancelled:
			cancelled++
		case unit.StatusPending:
		default:
			active++
		}
	}

	b.WriteString(fmt.Sprintf("\n  %d/%d done", done, len(m.order)))
	if active > 0 {
		b.WriteString(fmt.Sprintf(", %d active", active))
	}
	if failed > 0 {
		b.WriteString(failedStyle.Render(fmt.Sprintf(", %d failed", failed)))
	}
	if cancelled > 0 {
		b.WriteString(cancelledStyle.Render(fmt.Sprintf(", %d cancelled", cancelled)))
	}
	b.WriteString("\n")
	return b.String()
}

func statusLabel(status unit.Status, round int) string {
	switch status {
	case unit.StatusGenerating, unit.StatusVerifying, unit.StatusRefining:
		return fmt.Sprintf("%s (round %d)", status, round)
	default:
		return string(status)
	}
}

func styleFor(status unit.Status) lipgloss.Style {
	switch status {
	case unit.StatusDone:
		return doneStyle
	case unit.StatusFailed:
		return failedStyle
	case unit.StatusCancelled:
		return cancelledStyle
	case unit.StatusPending:
		return pendingStyle
	default:
		return activeStyle
	}
}
