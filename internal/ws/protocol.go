package ws

import (
	"encoding/json"

	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/tracker"
)

type MessageType string

// Feed messages, agent to observers.
const (
	MsgSnapshot   MessageType = "snapshot"
	MsgDelta      MessageType = "delta"
	MsgLifecycle  MessageType = "lifecycle"
	MsgReport     MessageType = "report"
	MsgSinkHealth MessageType = "sink_health"
	MsgResync     MessageType = "resync" // observer to agent
)

// Bridge messages, page to agent.
const (
	MsgHello      MessageType = "hello"
	MsgNavigate   MessageType = "navigate"
	MsgTitle      MessageType = "title"
	MsgElements   MessageType = "elements"
	MsgIntersect  MessageType = "intersect"
	MsgMutation   MessageType = "mutation"
	MsgVisibility MessageType = "visibility"
	MsgUnload     MessageType = "unload"
)

// Bridge messages, agent to page.
const (
	MsgWatch     MessageType = "watch"
	MsgObserve   MessageType = "observe"
	MsgUnobserve MessageType = "unobserve"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HelloPayload struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Hidden bool   `json:"hidden,omitempty"`
}

type NavigatePayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type ElementsPayload struct {
	Selector string         `json:"selector"`
	Elements []page.Element `json:"elements"`
}

type IntersectPayload struct {
	Key   string  `json:"key"`
	Ratio float64 `json:"ratio"`
}

type MutationPayload struct {
	Types []string `json:"types"`
}

// TitlePayload carries a document title that changed after load.
type TitlePayload struct {
	Title string `json:"title"`
}

type VisibilityPayload struct {
	Hidden bool `json:"hidden"`
}

type WatchPayload struct {
	PageID    string   `json:"pageId"`
	Selectors []string `json:"selectors"`
}

type ObservePayload struct {
	Keys []string `json:"keys"`
}

type SnapshotPayload struct {
	Pages []tracker.Snapshot    `json:"pages"`
	Sink  report.HealthSnapshot `json:"sink"`
}

type DeltaPayload struct {
	Updates []tracker.Snapshot `json:"updates"`
	Removed []string           `json:"removed,omitempty"`
}

type LifecyclePayload struct {
	PageID string        `json:"pageId"`
	Event  session.Event `json:"event"`
}

type ReportPayload struct {
	Result report.Result `json:"result"`
}
