// Package pages renders the table of tracked pages and their open sessions.
package pages

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/viewtrack/agent/internal/tui/client"
	"github.com/viewtrack/agent/internal/tui/theme"
)

// DefaultHeartbeat matches the agent's default heartbeat interval.
const DefaultHeartbeat = 30 * time.Second

// Row is a page plus the local time its state was received. Elapsed time of
// a running session is extrapolated from it between feed updates.
type Row struct {
	Page       client.PageState
	ReceivedAt time.Time
}

// Elapsed returns the session's elapsed time as of now.
func (r Row) Elapsed(now time.Time) time.Duration {
	d := time.Duration(r.Page.ElapsedSeconds) * time.Second
	if r.Running() && now.After(r.ReceivedAt) {
		d += now.Sub(r.ReceivedAt)
	}
	return d.Truncate(time.Second)
}

// Running reports whether elapsed time is currently accruing.
func (r Row) Running() bool {
	p := r.Page
	return !p.Unloaded && p.State == client.StateActive && p.Active != nil && !p.Active.Paused
}

// Model holds the page table.
type Model struct {
	Width     int
	Heartbeat time.Duration
	Selected  int
	rows      []Row
}

// New creates an empty table.
func New() Model {
	return Model{Heartbeat: DefaultHeartbeat}
}

// SetRows replaces the table contents. Live pages come first; otherwise
// the input order is kept.
func (m *Model) SetRows(rows []Row) {
	m.rows = make([]Row, len(rows))
	copy(m.rows, rows)
	sort.SliceStable(m.rows, func(i, j int) bool {
		return !m.rows[i].Page.Unloaded && m.rows[j].Page.Unloaded
	})
	m.clamp()
}

// Rows returns the table contents in display order.
func (m Model) Rows() []Row {
	return m.rows
}

// Current returns the selected row.
func (m Model) Current() (Row, bool) {
	if m.Selected < 0 || m.Selected >= len(m.rows) {
		return Row{}, false
	}
	return m.rows[m.Selected], true
}

// Next moves the selection down, wrapping.
func (m *Model) Next() {
	if len(m.rows) > 0 {
		m.Selected = (m.Selected + 1) % len(m.rows)
	}
}

// Prev moves the selection up, wrapping.
func (m *Model) Prev() {
	if len(m.rows) > 0 {
		m.Selected = (m.Selected - 1 + len(m.rows)) % len(m.rows)
	}
}

func (m *Model) clamp() {
	if m.Selected >= len(m.rows) {
		m.Selected = len(m.rows) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

const (
	colState   = 2
	colContent = 26
	colHost    = 22
	colElapsed = 8
	colBeat    = 14
	colTracked = 7
)

// View renders the table as of now.
func (m Model) View(now time.Time) string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBright).
		Render("  Pages")

	if len(m.rows) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			theme.StyleDimmed.Render("  No pages connected"),
		)
	}

	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)

	tableHeader := fmt.Sprintf("  %-*s %-*s %-*s %*s %-*s %*s",
		colState, "",
		colContent, "Watching",
		colHost, "Host",
		colElapsed, "Elapsed",
		colBeat, "Next report",
		colTracked, "Seen",
	)
	lines := []string{
		header,
		dimStyle.Render(tableHeader),
		dimStyle.Render("  " + strings.Repeat("─", min(width-4, colState+colContent+colHost+colElapsed+colBeat+colTracked+5))),
	}

	for i, r := range m.rows {
		lines = append(lines, m.renderRow(i == m.Selected, r, now))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderRow(selected bool, r Row, now time.Time) string {
	p := r.Page
	paused := p.Active != nil && p.Active.Paused

	prefix := "  "
	if selected {
		prefix = "> "
	}

	glyph := lipgloss.NewStyle().Foreground(theme.StateColor(string(p.State), paused, p.Unloaded)).
		Width(colState).Render(theme.StateGlyph(string(p.State), paused, p.Unloaded))

	watching := "-"
	var platform string
	if p.Active != nil {
		platform = p.Active.Content.Source
		watching = p.Active.Content.ID
	}
	if len(watching) > colContent-5 {
		watching = watching[:colContent-6] + "…"
	}
	contentStr := lipgloss.NewStyle().Width(colContent).Render(theme.PlatformBadge(platform) + " " + watching)
	if platform == "" {
		contentStr = theme.StyleDimmed.Width(colContent).Render(watching)
	}

	host := Host(p.URL)
	if len(host) > colHost-1 {
		host = host[:colHost-2] + "…"
	}
	hostStr := theme.StyleDimmed.Width(colHost).Render(host)

	elapsed := "-"
	beat := ""
	if p.Active != nil {
		d := r.Elapsed(now)
		elapsed = FormatElapsed(d)
		beat = renderBeatBar(d, m.Heartbeat, colBeat-1)
	}
	elapsedStr := lipgloss.NewStyle().Foreground(theme.ColorBright).Width(colElapsed).
		Align(lipgloss.Right).Render(elapsed)
	beatStr := lipgloss.NewStyle().Width(colBeat).Render(beat)
	trackedStr := lipgloss.NewStyle().Foreground(theme.ColorBright).Width(colTracked).
		Align(lipgloss.Right).Render(fmt.Sprintf("%d", p.Tracked))

	line := fmt.Sprintf("%s%s %s %s %s %s %s", prefix, glyph, contentStr, hostStr, elapsedStr, beatStr, trackedStr)
	if selected {
		return theme.StyleSelected.Render(line)
	}
	return line
}

// renderBeatBar draws progress toward the next heartbeat report.
func renderBeatBar(elapsed, heartbeat time.Duration, width int) string {
	if heartbeat <= 0 || width < 4 {
		return ""
	}
	frac := float64(elapsed%heartbeat) / float64(heartbeat)
	filled := max(0, min(int(frac*float64(width)), width))
	bar := lipgloss.NewStyle().Foreground(theme.ColorHeartbeat).Render(strings.Repeat("█", filled))
	return bar + lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", width-filled))
}

// FormatElapsed renders d as m:ss, or h:mm:ss past an hour.
func FormatElapsed(d time.Duration) string {
	s := int(d / time.Second)
	if s < 0 {
		s = 0
	}
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// Host returns the host part of a page URL, or the raw string if it does
// not parse.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
