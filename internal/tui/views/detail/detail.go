// Package detail renders the page info overlay. The body is composed as
// Markdown and rendered through glamour.
package detail

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/viewtrack/agent/internal/tui/client"
	"github.com/viewtrack/agent/internal/tui/theme"
	"github.com/viewtrack/agent/internal/tui/views/pages"
)

const panelWidth = 72

// DefaultStyle is the glamour style used on a terminal.
const DefaultStyle = "dark"

var stylePanel = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.ColorBorder).
	Padding(0, 1)

// Model holds the state for the detail overlay.
type Model struct {
	Row   pages.Row
	Style string
	Err   string
}

// New creates a detail model for the given row.
func New(r pages.Row) Model {
	return Model{Row: r, Style: DefaultStyle}
}

// Markdown returns the overlay body before rendering.
func (m Model) Markdown(now time.Time) string {
	p := m.Row.Page
	var b strings.Builder

	fmt.Fprintf(&b, "# Page %s\n\n", shortID(p.ID))
	fmt.Fprintf(&b, "`%s`\n\n", p.URL)

	b.WriteString("| | |\n|---|---|\n")
	writeRow(&b, "State", stateLabel(p))
	writeRow(&b, "Adapters", strings.Join(p.Sources, ", "))
	writeRow(&b, "Seen", fmt.Sprintf("%d item(s)", p.Tracked))

	if s := p.Active; s != nil {
		b.WriteString("\n## Open session\n\n")
		b.WriteString("| | |\n|---|---|\n")
		writeRow(&b, "Platform", s.Content.Source)
		writeRow(&b, "Content", s.Content.ID)
		writeRow(&b, "Started", formatTime(s.StartedAt))
		writeRow(&b, "Last seen", formatTime(s.LastObservedAt))
		writeRow(&b, "Elapsed", pages.FormatElapsed(m.Row.Elapsed(now)))
	}

	if m.Err != "" {
		fmt.Fprintf(&b, "\n> refresh failed: %s\n", m.Err)
	}
	return b.String()
}

// View renders the detail panel.
func (m Model) View(now time.Time) string {
	md := m.Markdown(now)
	style := m.Style
	if style == "" {
		style = DefaultStyle
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(panelWidth-4),
	)
	body := md
	if err == nil {
		if out, err := r.Render(md); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}
	footer := theme.StyleDimmed.Render("esc:close")
	return stylePanel.Width(panelWidth).Render(lipgloss.JoinVertical(lipgloss.Left, body, footer))
}

func writeRow(b *strings.Builder, label, value string) {
	if value == "" {
		value = "-"
	}
	fmt.Fprintf(b, "| %s | %s |\n", label, strings.ReplaceAll(value, "|", "\\|"))
}

func stateLabel(p client.PageState) string {
	switch {
	case p.Unloaded:
		return "unloaded"
	case p.Active != nil && p.Active.Paused:
		return "active (paused)"
	default:
		return string(p.State)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
