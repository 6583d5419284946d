// Package debug is the report log overlay: feed, session and collector
// activity in arrival order, filterable by kind.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/viewtrack/agent/internal/tui/client"
	"github.com/viewtrack/agent/internal/tui/theme"
)

const maxEntries = 200

// Kind classifies a log entry.
type Kind string

const (
	KindFeed      Kind = "feed"
	KindLifecycle Kind = "life"
	KindReport    Kind = "rpt"
	KindError     Kind = "err"
	KindHealth    Kind = "hlth"
)

// Filter narrows the entries the overlay shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterReports
	FilterSessions
	FilterErrors
	filterCount
)

func (f Filter) String() string {
	switch f {
	case FilterReports:
		return "reports"
	case FilterSessions:
		return "sessions"
	case FilterErrors:
		return "errors"
	default:
		return "all"
	}
}

func (f Filter) match(e Entry) bool {
	switch f {
	case FilterReports:
		return e.Delivery != nil
	case FilterSessions:
		return e.Kind == KindLifecycle
	case FilterErrors:
		return e.Kind == KindError
	default:
		return true
	}
}

// Delivery is the collector outcome attached to report entries.
type Delivery struct {
	Final  bool
	Status int // HTTP status, 0 when the request never completed
}

// Entry is one log line.
type Entry struct {
	Time     time.Time
	Kind     Kind
	Message  string
	Delivery *Delivery
}

// Model holds the log, its scroll position and the active filter.
type Model struct {
	Entries []Entry
	Offset  int // lines scrolled up from the newest visible entry
	Filter  Filter
	Sent    int
	Failed  int
}

func New() Model {
	return Model{}
}

// Add appends an entry stamped now.
func (m *Model) Add(kind Kind, message string) {
	m.AddAt(time.Now(), kind, message)
}

// AddAt appends an entry. A zero t means now.
func (m *Model) AddAt(t time.Time, kind Kind, message string) {
	m.append(Entry{Time: t, Kind: kind, Message: message})
}

// AddReport logs one collector delivery and updates the totals.
func (m *Model) AddReport(res client.ReportResult) {
	r := res.Report
	e := Entry{
		Time:     res.At,
		Kind:     KindReport,
		Message:  fmt.Sprintf("%s:%s %ds", r.Platform, r.ContentID, r.WatchDuration),
		Delivery: &Delivery{Final: !r.IsHeartbeat, Status: res.Status},
	}
	if r.ContentTitle != "" {
		e.Message += fmt.Sprintf(" %q", r.ContentTitle)
	}
	if res.OK() {
		m.Sent++
	} else {
		m.Failed++
		e.Kind = KindError
		e.Message += ": " + res.Error
	}
	m.append(e)
}

func (m *Model) append(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// CycleFilter switches to the next filter and scrolls back to the newest
// entry.
func (m *Model) CycleFilter() {
	m.Filter = (m.Filter + 1) % filterCount
	m.Offset = 0
}

// Visible returns the entries that pass the active filter, oldest first.
func (m Model) Visible() []Entry {
	if m.Filter == FilterAll {
		return m.Entries
	}
	var out []Entry
	for _, e := range m.Entries {
		if m.Filter.match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Visible())-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	rows := max(height-7, 3)

	title := theme.StyleHeader.Render(" REPORT LOG ")
	summary := fmt.Sprintf("filter: %s  %d sent  %d failed", m.Filter, m.Sent, m.Failed)
	help := theme.StyleDimmed.Render("j/k:scroll  f:filter  esc:close")

	entries := m.Visible()
	if len(entries) == 0 {
		empty := "  No events recorded yet."
		if m.Filter != FilterAll {
			empty = fmt.Sprintf("  No %s yet.", m.Filter)
		}
		content := lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render(summary), "",
			theme.StyleDimmed.Render(empty), "", help)
		return panel(innerW).Render(content)
	}

	end := max(len(entries)-m.Offset, 0)
	start := max(end-rows, 0)
	lines := make([]string, 0, end-start)
	for _, e := range entries[start:end] {
		lines = append(lines, renderEntry(e, innerW))
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		title, theme.StyleDimmed.Render(summary), strings.Join(lines, "\n"), more, help)
	return panel(innerW).Render(content)
}

func panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

func renderEntry(e Entry, width int) string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
	kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(string(e.Kind))

	tag := ""
	if d := e.Delivery; d != nil {
		label, color := "beat", theme.ColorHeartbeat
		if d.Final {
			label, color = "final", theme.ColorStop
		}
		status := "---"
		if d.Status > 0 {
			status = fmt.Sprintf("%d", d.Status)
		}
		tag = lipgloss.NewStyle().Foreground(color).Width(6).Render(label) +
			theme.StyleDimmed.Width(4).Render(status) + " "
	}

	msg := e.Message
	room := width - 16 - lipgloss.Width(tag)
	if room > 3 && len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	return fmt.Sprintf("%s %s %s%s", ts, kind, tag, msg)
}

func kindColor(k Kind) lipgloss.Color {
	switch k {
	case KindFeed:
		return theme.ColorDimmed
	case KindLifecycle:
		return theme.ColorStart
	case KindReport:
		return theme.ColorHealthy
	case KindError:
		return theme.ColorErrored
	case KindHealth:
		return theme.ColorWarning
	}
	return theme.ColorDimmed
}
