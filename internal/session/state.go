package session

import (
	"encoding/json"
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
)

// State is the machine state. There are exactly two.
type State int

const (
	Idle State = iota
	Active
)

var stateNames = map[State]string{
	Idle:   "idle",
	Active: "active",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ViewSession is one ongoing or just-closed act of viewing.
type ViewSession struct {
	Content        content.Ref `json:"content"`
	StartedAt      time.Time   `json:"startedAt"`
	LastObservedAt time.Time   `json:"lastObservedAt"`
	Paused         bool        `json:"paused,omitempty"`
}

// activeSession is the machine-owned mutable form of a ViewSession.
type activeSession struct {
	ViewSession
	heartbeat   clock.Timer
	pausedTotal time.Duration
	pausedAt    time.Time
}

// elapsed returns the accrued viewing time at now, excluding paused spans,
// floored to whole seconds.
func (s *activeSession) elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt) - s.pausedTotal
	if !s.pausedAt.IsZero() {
		d -= now.Sub(s.pausedAt)
	}
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

func (s *activeSession) snapshot() ViewSession {
	v := s.ViewSession
	v.Paused = !s.pausedAt.IsZero()
	return v
}

// TrackedSet holds every ref that opened a session during this page
// lifetime. It only grows.
type TrackedSet struct {
	refs  map[content.Ref]struct{}
	order []content.Ref
}

func NewTrackedSet() *TrackedSet {
	return &TrackedSet{refs: make(map[content.Ref]struct{})}
}

// Add records ref and reports whether it was new.
func (t *TrackedSet) Add(ref content.Ref) bool {
	if _, ok := t.refs[ref]; ok {
		return false
	}
	t.refs[ref] = struct{}{}
	t.order = append(t.order, ref)
	return true
}

func (t *TrackedSet) Has(ref content.Ref) bool {
	_, ok := t.refs[ref]
	return ok
}

func (t *TrackedSet) Len() int {
	return len(t.order)
}

// Refs returns the tracked refs in insertion order.
func (t *TrackedSet) Refs() []content.Ref {
	out := make([]content.Ref, len(t.order))
	copy(out, t.order)
	return out
}
