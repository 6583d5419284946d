package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/viewtrack/agent/internal/tui/client"
	"github.com/viewtrack/agent/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Pages     int
	Active    int
	Sink      client.SinkHealth
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetCounts updates the page counts.
func (m *Model) SetCounts(pages, active int) {
	m.Pages = pages
	m.Active = active
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	counts := fmt.Sprintf("%d pages  %d watching", m.Pages, m.Active)

	status := string(m.Sink.Status)
	if status == "" {
		status = "unknown"
	}
	sink := fmt.Sprintf("sink: %s  %d sent  %d failed", status, m.Sink.Sent, m.Sink.Failed)
	sinkStr := lipgloss.NewStyle().Foreground(theme.HealthColor(status)).Render(sink)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + counts + sep + sinkStr

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
