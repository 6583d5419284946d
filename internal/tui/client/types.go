// Package client provides WebSocket and HTTP clients for the viewtrack
// agent's observer feed. Types mirror the feed wire protocol without
// importing agent packages.
package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of feed message.
type MessageType string

const (
	MsgSnapshot   MessageType = "snapshot"
	MsgDelta      MessageType = "delta"
	MsgLifecycle  MessageType = "lifecycle"
	MsgReport     MessageType = "report"
	MsgSinkHealth MessageType = "sink_health"
	MsgResync     MessageType = "resync"
)

// WSMessage is the envelope for all feed messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// State is a page's session state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// ContentRef mirrors content.Ref.
type ContentRef struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

func (r ContentRef) String() string {
	if r.ID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.Source, r.ID)
}

// ViewSession mirrors session.ViewSession.
type ViewSession struct {
	Content        ContentRef `json:"content"`
	StartedAt      time.Time  `json:"startedAt"`
	LastObservedAt time.Time  `json:"lastObservedAt"`
	Paused         bool       `json:"paused,omitempty"`
}

// PageState mirrors tracker.Snapshot.
type PageState struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	State          State        `json:"state"`
	Active         *ViewSession `json:"active,omitempty"`
	ElapsedSeconds int          `json:"elapsedSeconds"`
	Tracked        int          `json:"tracked"`
	Sources        []string     `json:"sources"`
	Unloaded       bool         `json:"unloaded"`
}

// HealthStatus mirrors report.HealthStatus.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// SinkHealth mirrors report.HealthSnapshot.
type SinkHealth struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Sent                int          `json:"sent"`
	Failed              int          `json:"failed"`
	LastError           string       `json:"lastError,omitempty"`
	LastFailure         time.Time    `json:"lastFailure,omitempty"`
	LastSuccess         time.Time    `json:"lastSuccess,omitempty"`
}

// SessionEvent mirrors session.Event.
type SessionEvent struct {
	Type           string      `json:"type"`
	Session        ViewSession `json:"session"`
	At             time.Time   `json:"at"`
	Reason         string      `json:"reason,omitempty"`
	ElapsedSeconds int         `json:"elapsedSeconds"`
}

// EngagementReport mirrors report.EngagementReport.
type EngagementReport struct {
	Platform       string   `json:"platform"`
	ContentID      string   `json:"content_id"`
	UserID         string   `json:"user_id"`
	WatchDuration  int      `json:"watch_duration"`
	EngagementType string   `json:"engagement_type"`
	IsHeartbeat    bool     `json:"is_heartbeat"`
	ContentTitle   string   `json:"content_title,omitempty"`
	ContentURL     string   `json:"content_url,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// ReportResult mirrors report.Result.
type ReportResult struct {
	Report EngagementReport `json:"report"`
	Status int              `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

// OK reports whether the collector accepted the report.
func (r ReportResult) OK() bool {
	return r.Error == ""
}

// SnapshotPayload is the full state sent on connect and on resync.
type SnapshotPayload struct {
	Pages []PageState `json:"pages"`
	Sink  SinkHealth  `json:"sink"`
}

type DeltaPayload struct {
	Updates []PageState `json:"updates"`
	Removed []string    `json:"removed,omitempty"`
}

type LifecyclePayload struct {
	PageID string       `json:"pageId"`
	Event  SessionEvent `json:"event"`
}

type ReportPayload struct {
	Result ReportResult `json:"result"`
}
