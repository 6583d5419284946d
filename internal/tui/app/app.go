package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/viewtrack/agent/internal/tui/client"
	"github.com/viewtrack/agent/internal/tui/theme"
	"github.com/viewtrack/agent/internal/tui/views/debug"
	"github.com/viewtrack/agent/internal/tui/views/detail"
	"github.com/viewtrack/agent/internal/tui/views/pages"
	"github.com/viewtrack/agent/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayDebug
)

const tickInterval = time.Second

type tickMsg time.Time

type pagesFetchedMsg struct {
	pages []client.PageState
	err   error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	keys   KeyMap
	width  int
	height int

	rows  map[string]pages.Row
	order []string // page IDs, first seen first

	overlay Overlay

	statusBar status.Model
	table     pages.Model
	log       debug.Model
	detail    detail.Model

	connected bool
}

// New creates the root model. Either client may be nil.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		keys:      DefaultKeyMap(),
		rows:      make(map[string]pages.Row),
		statusBar: status.New(),
		table:     pages.New(),
		log:       debug.New(),
	}
}

// Init starts the feed connection and the repaint ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) listen() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx)
}

func (m Model) read() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop(m.ctx)
}

func (m Model) fetchPages() tea.Cmd {
	if m.http == nil {
		return nil
	}
	h := m.http
	return func() tea.Msg {
		ps, err := h.GetPages()
		return pagesFetchedMsg{pages: ps, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.table.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tick()

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log.Add(debug.KindFeed, "connected")
		return m, m.read()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.log.Add(debug.KindFeed, "disconnected: "+msg.Err.Error())
		}
		return m, m.listen()

	case client.WSSnapshotMsg:
		received := m.now()
		m.rows = make(map[string]pages.Row, len(msg.Payload.Pages))
		m.order = make([]string, 0, len(msg.Payload.Pages))
		for _, p := range msg.Payload.Pages {
			m.rows[p.ID] = pages.Row{Page: p, ReceivedAt: received}
			m.order = append(m.order, p.ID)
		}
		m.statusBar.Sink = msg.Payload.Sink
		m.refreshTable()
		return m, m.read()

	case client.WSDeltaMsg:
		received := m.now()
		for _, p := range msg.Payload.Updates {
			if _, ok := m.rows[p.ID]; !ok {
				m.order = append(m.order, p.ID)
			}
			m.rows[p.ID] = pages.Row{Page: p, ReceivedAt: received}
		}
		for _, id := range msg.Payload.Removed {
			m.removePage(id)
		}
		m.refreshTable()
		return m, m.read()

	case client.WSLifecycleMsg:
		m.log.AddAt(msg.Payload.Event.At, debug.KindLifecycle, describeEvent(msg.Payload))
		return m, m.read()

	case client.WSReportMsg:
		m.log.AddReport(msg.Payload.Result)
		return m, m.read()

	case client.WSSinkHealthMsg:
		if msg.Payload.Status != m.statusBar.Sink.Status {
			m.log.Add(debug.KindHealth, fmt.Sprintf("sink %s", msg.Payload.Status))
		}
		m.statusBar.Sink = msg.Payload
		return m, m.read()

	case pagesFetchedMsg:
		if m.overlay != OverlayDetail {
			return m, nil
		}
		if msg.err != nil {
			m.detail.Err = msg.err.Error()
			return m, nil
		}
		m.detail.Err = ""
		for _, p := range msg.pages {
			if p.ID == m.detail.Row.Page.ID {
				m.detail.Row = pages.Row{Page: p, ReceivedAt: m.now()}
			}
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Filter):
			m.log.CycleFilter()
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.table.Next()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.table.Prev()
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		if m.ws != nil {
			if err := m.ws.Resync(); err != nil {
				m.log.Add(debug.KindError, "resync: "+err.Error())
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		r, ok := m.table.Current()
		if !ok {
			return m, nil
		}
		m.detail = detail.New(r)
		m.overlay = OverlayDetail
		return m, m.fetchPages()
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	now := m.now()
	var body string
	switch m.overlay {
	case OverlayDebug:
		body = m.log.View(m.width, m.height-4)
	case OverlayDetail:
		body = m.detail.View(now)
	default:
		body = m.table.View(now)
	}
	if !m.connected {
		body = lipgloss.JoinVertical(lipgloss.Left, m.renderDisconnected(), body)
	}

	sections := []string{
		m.statusBar.View(),
		body,
		theme.StyleDimmed.Render("  j/k:navigate  enter:detail  d:report log  r:resync  q:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorDanger).
		Bold(true).
		Padding(0, 2).
		Render("DISCONNECTED  Reconnecting to agent...")
}

func (m *Model) removePage(id string) {
	delete(m.rows, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Model) refreshTable() {
	rows := make([]pages.Row, 0, len(m.order))
	active := 0
	for _, id := range m.order {
		r := m.rows[id]
		rows = append(rows, r)
		if r.Page.Active != nil && !r.Page.Unloaded {
			active++
		}
	}
	m.table.SetRows(rows)
	m.statusBar.SetCounts(len(rows), active)
}

func describeEvent(p client.LifecyclePayload) string {
	e := p.Event
	s := fmt.Sprintf("%s %s %ds", e.Type, e.Session.Content, e.ElapsedSeconds)
	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}
	return s
}
