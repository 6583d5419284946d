// Package tracker runs one engagement tracker per page lifetime. Every page
// signal and every timer callback runs on the tracker's own event loop, so
// the visibility sources and the session machine need no locks.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/viewtrack/agent/internal/adapter"
	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/visibility"
)

const loopBuffer = 256

// Config holds the plain values the tracker core runs with.
type Config struct {
	Timing  adapter.Timing
	Session session.Config
	UserID  string
	// Privacy is applied to every outgoing report. Nil sends reports as is.
	Privacy *report.PrivacyFilter
}

// Options are a tracker's collaborators.
type Options struct {
	ID       string
	Config   Config
	Clock    clock.Clock
	Page     page.Page
	Adapters []adapter.Adapter
	Resolver report.Resolver
	Sink     report.Sink
	// Observer receives lifecycle events after the dispatcher. Optional.
	Observer session.Emitter
}

// Snapshot is a point-in-time view of a tracker.
type Snapshot struct {
	ID       string               `json:"id"`
	URL      string               `json:"url"`
	State    session.State        `json:"state"`
	Active   *session.ViewSession `json:"active,omitempty"`
	Elapsed  int                  `json:"elapsedSeconds"`
	Tracked  int                  `json:"tracked"`
	Sources  []content.Source     `json:"sources"`
	Unloaded bool                 `json:"unloaded"`
}

// Tracker wires adapters, visibility sources, the session machine and the
// reporting sink for one page. Its methods are safe to call from any
// goroutine.
type Tracker struct {
	id       string
	page     page.Page
	loop     *Loop
	clock    clock.Clock
	machine  *session.Machine
	adapters []adapter.Adapter
	sources  []visibility.Source

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(opts Options) *Tracker {
	base := opts.Clock
	if base == nil {
		base = clock.Real{}
	}
	loop := NewLoop(loopBuffer)
	lc := loopClock{base: base, loop: loop}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = adapter.NewRegistry(opts.Adapters...).Resolver(opts.Page)
	}
	dispatcher := report.NewDispatcher(opts.Sink, resolver, opts.Config.UserID)
	dispatcher.SetPrivacy(opts.Config.Privacy)
	emit := session.Emitters{dispatcher}
	if opts.Observer != nil {
		emit = append(emit, opts.Observer)
	}

	t := &Tracker{
		id:       opts.ID,
		page:     opts.Page,
		loop:     loop,
		clock:    lc,
		adapters: opts.Adapters,
	}
	t.machine = session.NewMachine(lc, opts.Config.Session, emit)

	watcher := visibility.PollingWatcher{Clock: lc, Interval: opts.Config.Timing.URLWatch}
	for _, a := range opts.Adapters {
		t.sources = append(t.sources, a.NewSignal(adapter.Env{
			Clock:   lc,
			Page:    opts.Page,
			Watcher: watcher,
			Timing:  opts.Config.Timing,
			Confirm: t.confirm,
		}))
	}
	return t
}

func (t *Tracker) ID() string {
	return t.id
}

// Start runs the event loop and starts every visibility source.
func (t *Tracker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.loop.Run(ctx)
		t.loop.Post(func() {
			t.machine.SetHidden(t.page.Hidden())
			for _, s := range t.sources {
				s.Start()
			}
			log.Printf("[tracker] page %s started with %d source(s)", t.id, len(t.sources))
		})
	})
}

// Unload ends the page lifetime: sources stop, any open session is closed
// and reported, and the loop exits. It waits for the loop to finish.
func (t *Tracker) Unload() {
	t.startOnce.Do(func() { go t.loop.Run(context.Background()) })
	t.stopOnce.Do(func() {
		ran := false
		t.loop.Post(func() {
			t.unload()
			ran = true
		})
		t.loop.Close()
		<-t.loop.Done()
		// The loop may have stopped with its context before the unload
		// was queued. Nothing else touches the machine once Run returns.
		if !ran {
			t.unload()
		}
	})
	<-t.loop.Done()
}

func (t *Tracker) unload() {
	for _, s := range t.sources {
		s.Stop()
	}
	t.machine.Unload()
	log.Printf("[tracker] page %s unloaded", t.id)
}

// ElementsChanged rescans after the page reported a new element snapshot.
func (t *Tracker) ElementsChanged() {
	t.loop.Post(t.rescan)
}

// Mutation rescans after structural DOM mutations only.
func (t *Tracker) Mutation(types []string) {
	if !visibility.Structural(types) {
		return
	}
	t.loop.Post(t.rescan)
}

// Intersect forwards a viewport intersection report.
func (t *Tracker) Intersect(key string, ratio float64) {
	t.loop.Post(func() {
		for _, s := range t.sources {
			if ih, ok := s.(visibility.IntersectionHandler); ok {
				ih.Intersect(key, ratio)
			}
		}
	})
}

// SetHidden forwards page visibility changes to the machine.
func (t *Tracker) SetHidden(hidden bool) {
	t.loop.Post(func() { t.machine.SetHidden(hidden) })
}

// Snapshot returns the tracker state. After unload it reports the final
// state without an active session.
func (t *Tracker) Snapshot() Snapshot {
	var snap Snapshot
	if !t.loop.Do(func() { snap = t.snapshot() }) {
		snap = Snapshot{ID: t.id, URL: t.page.URL(), State: session.Idle, Unloaded: true, Sources: t.sourceList()}
	}
	return snap
}

// Sync waits until everything posted before it has run.
func (t *Tracker) Sync() {
	t.loop.Do(func() {})
}

func (t *Tracker) snapshot() Snapshot {
	snap := Snapshot{
		ID:       t.id,
		URL:      t.page.URL(),
		State:    t.machine.State(),
		Tracked:  t.machine.TrackedCount(),
		Sources:  t.sourceList(),
		Unloaded: t.machine.Unloaded(),
	}
	if s, ok := t.machine.Active(); ok {
		snap.Active = &s
		snap.Elapsed = int(t.machine.Elapsed() / time.Second)
	}
	return snap
}

func (t *Tracker) sourceList() []content.Source {
	out := make([]content.Source, 0, len(t.adapters))
	for _, a := range t.adapters {
		out = append(out, a.Source())
	}
	return out
}

func (t *Tracker) rescan() {
	for _, s := range t.sources {
		if r, ok := s.(visibility.Rescanner); ok {
			r.Rescan()
		}
	}
}

func (t *Tracker) confirm(ref content.Ref) {
	metricConfirmedSignals.WithLabelValues(ref.Source.String()).Inc()
	t.machine.Confirm(ref)
}
