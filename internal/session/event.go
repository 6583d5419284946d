package session

import (
	"encoding/json"
	"time"
)

// EventType classifies session lifecycle events.
type EventType int

const (
	EventStart     EventType = iota // session opened
	EventHeartbeat                  // periodic, non-final
	EventStop                       // session closed, final
)

var eventNames = map[EventType]string{
	EventStart:     "start",
	EventHeartbeat: "heartbeat",
	EventStop:      "stop",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// StopReason says why a session closed.
type StopReason string

const (
	StopSuperseded StopReason = "superseded"
	StopUnload     StopReason = "unload"
)

// Event carries a session snapshot to observers.
type Event struct {
	Type    EventType     `json:"type"`
	Session ViewSession   `json:"session"`
	Elapsed time.Duration `json:"-"`
	At      time.Time     `json:"at"`
	Reason  StopReason    `json:"reason,omitempty"`
}

// Seconds is the elapsed viewing time in whole seconds.
func (e Event) Seconds() int {
	return int(e.Elapsed / time.Second)
}

// Final reports whether the event closes its session.
func (e Event) Final() bool {
	return e.Type == EventStop
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		ElapsedSeconds int `json:"elapsedSeconds"`
	}{plain(e), e.Seconds()})
}

// Emitter receives lifecycle events. Emit runs on the tracker loop and must
// not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Emitters fans an event out to several emitters in order.
type Emitters []Emitter

func (es Emitters) Emit(e Event) {
	for _, em := range es {
		if em != nil {
			em.Emit(e)
		}
	}
}
