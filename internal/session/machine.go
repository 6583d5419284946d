// Package session implements the per-page viewing state machine. A page
// lifetime has at most one active session, and each content ref opens a
// session at most once.
package session

import (
	"log"
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
)

// DefaultHeartbeat is the interval between non-final reports.
const DefaultHeartbeat = 30 * time.Second

// Config tunes a Machine.
type Config struct {
	Heartbeat time.Duration
	// PauseWhenHidden stops accrual while the page is hidden.
	PauseWhenHidden bool
}

// Machine is not safe for concurrent use. All calls, including heartbeat
// timer callbacks, must arrive on one goroutine.
type Machine struct {
	clock    clock.Clock
	cfg      Config
	emit     Emitter
	active   *activeSession
	tracked  *TrackedSet
	refused  map[content.Ref]bool // tracked refs already logged as refused
	hidden   bool
	unloaded bool
}

func NewMachine(c clock.Clock, cfg Config, emit Emitter) *Machine {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if emit == nil {
		emit = Emitters(nil)
	}
	return &Machine{
		clock:   c,
		cfg:     cfg,
		emit:    emit,
		tracked: NewTrackedSet(),
		refused: make(map[content.Ref]bool),
	}
}

// Confirm handles a confirmed-viewing signal for ref.
func (m *Machine) Confirm(ref content.Ref) {
	if m.unloaded || ref.IsZero() {
		return
	}
	if s := m.active; s != nil {
		if s.Content == ref {
			s.LastObservedAt = m.clock.Now()
			return
		}
		m.close(StopSuperseded)
	}
	if m.tracked.Has(ref) {
		if !m.refused[ref] {
			m.refused[ref] = true
			log.Printf("[session] %s already tracked on this page, not reopening", ref)
		}
		return
	}
	m.open(ref)
}

// Unload closes any active session. The machine ignores all later input.
func (m *Machine) Unload() {
	if m.unloaded {
		return
	}
	m.unloaded = true
	if m.active != nil {
		m.close(StopUnload)
	}
}

// SetHidden records page visibility. Accrual only pauses when the machine
// was configured with PauseWhenHidden.
func (m *Machine) SetHidden(hidden bool) {
	if m.hidden == hidden {
		return
	}
	m.hidden = hidden
	s := m.active
	if !m.cfg.PauseWhenHidden || s == nil {
		return
	}
	now := m.clock.Now()
	if hidden {
		s.pausedAt = now
		return
	}
	s.pausedTotal += now.Sub(s.pausedAt)
	s.pausedAt = time.Time{}
}

func (m *Machine) State() State {
	if m.active != nil {
		return Active
	}
	return Idle
}

// Active returns a snapshot of the active session.
func (m *Machine) Active() (ViewSession, bool) {
	if m.active == nil {
		return ViewSession{}, false
	}
	return m.active.snapshot(), true
}

// Elapsed returns the accrued time of the active session so far.
func (m *Machine) Elapsed() time.Duration {
	if m.active == nil {
		return 0
	}
	return m.active.elapsed(m.clock.Now())
}

func (m *Machine) Tracked(ref content.Ref) bool {
	return m.tracked.Has(ref)
}

// TrackedCount returns how many refs this page lifetime has opened.
func (m *Machine) TrackedCount() int {
	return m.tracked.Len()
}

func (m *Machine) TrackedRefs() []content.Ref {
	return m.tracked.Refs()
}

func (m *Machine) Unloaded() bool {
	return m.unloaded
}

func (m *Machine) open(ref content.Ref) {
	now := m.clock.Now()
	m.tracked.Add(ref)
	s := &activeSession{
		ViewSession: ViewSession{
			Content:        ref,
			StartedAt:      now,
			LastObservedAt: now,
		},
	}
	if m.hidden && m.cfg.PauseWhenHidden {
		s.pausedAt = now
	}
	m.active = s
	s.heartbeat = clock.Every(m.clock, m.cfg.Heartbeat, func() { m.heartbeat(s) })
	log.Printf("[session] started %s", ref)
	m.emit.Emit(Event{Type: EventStart, Session: s.snapshot(), At: now})
}

func (m *Machine) heartbeat(s *activeSession) {
	if m.active != s {
		log.Printf("[session] stale heartbeat for %s ignored", s.Content)
		return
	}
	now := m.clock.Now()
	s.LastObservedAt = now
	m.emit.Emit(Event{
		Type:    EventHeartbeat,
		Session: s.snapshot(),
		Elapsed: s.elapsed(now),
		At:      now,
	})
}

func (m *Machine) close(reason StopReason) {
	s := m.active
	s.heartbeat.Stop()
	m.active = nil
	now := m.clock.Now()
	elapsed := s.elapsed(now)
	log.Printf("[session] stopped %s after %s (%s)", s.Content, elapsed, reason)
	m.emit.Emit(Event{
		Type:    EventStop,
		Session: s.snapshot(),
		Elapsed: elapsed,
		At:      now,
		Reason:  reason,
	})
}
