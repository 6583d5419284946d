// Package report turns session lifecycle events into engagement reports and
// delivers them to the remote collector.
package report

import (
	"errors"

	"github.com/viewtrack/agent/internal/content"
)

// EngagementView is the only engagement type the tracker produces.
const EngagementView = "view"

// DefaultUserID is the identity sent when none is configured.
const DefaultUserID = "default_user"

// ErrCollector marks failures reported by the collector itself.
var ErrCollector = errors.New("collector rejected report")

// EngagementReport is the collector payload. It is derived at send time and
// never stored.
type EngagementReport struct {
	Platform       content.Source `json:"platform"`
	ContentID      string         `json:"content_id"`
	UserID         string         `json:"user_id"`
	WatchDuration  int            `json:"watch_duration"`
	EngagementType string         `json:"engagement_type"`
	IsHeartbeat    bool           `json:"is_heartbeat"`
	ContentTitle   string         `json:"content_title,omitempty"`
	ContentURL     string         `json:"content_url,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
}

// Ref returns the content ref the report describes.
func (r EngagementReport) Ref() content.Ref {
	return content.Ref{Source: r.Platform, ID: r.ContentID}
}

// Kind is the metric/feed label for the report: "heartbeat" or "final".
func (r EngagementReport) Kind() string {
	if r.IsHeartbeat {
		return "heartbeat"
	}
	return "final"
}

// Metadata is optional descriptive data attached at send time.
type Metadata struct {
	Title string   `json:"title,omitempty"`
	URL   string   `json:"url,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func (m Metadata) apply(r *EngagementReport) {
	r.ContentTitle = m.Title
	r.ContentURL = m.URL
	r.Tags = m.Tags
}

// Resolver looks up metadata for a ref.
type Resolver interface {
	Resolve(ref content.Ref) (Metadata, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref content.Ref) (Metadata, bool)

func (f ResolverFunc) Resolve(ref content.Ref) (Metadata, bool) { return f(ref) }

// Sink delivers reports. Send must not block the caller.
type Sink interface {
	Send(r EngagementReport, isHeartbeat bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r EngagementReport, isHeartbeat bool)

func (f SinkFunc) Send(r EngagementReport, isHeartbeat bool) { f(r, isHeartbeat) }
