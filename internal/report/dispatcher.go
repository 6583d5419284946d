package report

import (
	"github.com/viewtrack/agent/internal/session"
)

// Dispatcher converts session lifecycle events into reports. Start events
// produce no report; heartbeats and stops do.
type Dispatcher struct {
	sink     Sink
	resolver Resolver
	userID   string
	privacy  *PrivacyFilter
}

func NewDispatcher(sink Sink, resolver Resolver, userID string) *Dispatcher {
	if userID == "" {
		userID = DefaultUserID
	}
	return &Dispatcher{sink: sink, resolver: resolver, userID: userID}
}

// SetPrivacy installs a filter applied to every report before it is sent.
func (d *Dispatcher) SetPrivacy(f *PrivacyFilter) {
	d.privacy = f
}

// Emit implements session.Emitter.
func (d *Dispatcher) Emit(e session.Event) {
	ref := e.Session.Content
	switch e.Type {
	case session.EventStart:
		metricSessionsOpened.WithLabelValues(ref.Source.String()).Inc()
		return
	case session.EventStop:
		metricSessionsClosed.WithLabelValues(ref.Source.String(), string(e.Reason)).Inc()
	}

	r := EngagementReport{
		Platform:       ref.Source,
		ContentID:      ref.ID,
		UserID:         d.userID,
		WatchDuration:  e.Seconds(),
		EngagementType: EngagementView,
	}
	if d.resolver != nil {
		if md, ok := d.resolver.Resolve(ref); ok {
			md.apply(&r)
		}
	}
	d.sink.Send(d.privacy.Apply(r), !e.Final())
}
