package visibility

import (
	"reflect"
	"testing"
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// confirmRecorder collects confirmed refs.
type confirmRecorder struct {
	refs []content.Ref
}

func (r *confirmRecorder) confirm(ref content.Ref) { r.refs = append(r.refs, ref) }

func videoDetect(p page.Page) (content.Ref, bool) {
	if len(p.Query("video")) == 0 {
		return content.Ref{}, false
	}
	id, ok := content.VideoID(p.URL())
	if !ok {
		return content.Ref{}, false
	}
	return content.Ref{Source: content.StreamVideo, ID: id}, true
}

// observeRecorder is a page.Controller that records observation requests.
type observeRecorder struct {
	calls []string
}

func (r *observeRecorder) Observe(keys []string) {
	for _, k := range keys {
		r.calls = append(r.calls, "observe "+k)
	}
}

func (r *observeRecorder) Unobserve(keys []string) {
	for _, k := range keys {
		r.calls = append(r.calls, "unobserve "+k)
	}
}

func newTestPoller(c *clock.Fake, m *page.Mirror, interval time.Duration, rec *confirmRecorder) *Poller {
	w := PollingWatcher{Clock: c, Interval: 500 * time.Millisecond}
	cfg := PollerConfig{Interval: interval, Settle: 2 * time.Second}
	return NewPoller("video", c, m, w, cfg, videoDetect, rec.confirm)
}

func TestStructural(t *testing.T) {
	tests := []struct {
		types []string
		want  bool
	}{
		{[]string{MutationChildList}, true},
		{[]string{MutationAttributes, MutationChildList}, true},
		{[]string{MutationAttributes}, false},
		{[]string{MutationAttributes, MutationCharacterData}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Structural(tt.types); got != tt.want {
			t.Errorf("Structural(%v) = %v, want %v", tt.types, got, tt.want)
		}
	}
}

func TestPollingWatcher(t *testing.T) {
	c := clock.NewFake(epoch)
	value := "a"
	var changes [][2]string
	stop := PollingWatcher{Clock: c, Interval: 500 * time.Millisecond}.Watch(
		func() string { return value },
		func(prev, next string) { changes = append(changes, [2]string{prev, next}) },
	)

	c.Advance(time.Second)
	if len(changes) != 0 {
		t.Fatalf("unexpected changes: %v", changes)
	}
	value = "b"
	c.Advance(400 * time.Millisecond)
	if len(changes) != 0 {
		t.Fatal("change reported before the next sample")
	}
	c.Advance(100 * time.Millisecond)
	if !reflect.DeepEqual(changes, [][2]string{{"a", "b"}}) {
		t.Fatalf("changes = %v", changes)
	}

	stop()
	value = "c"
	c.Advance(time.Second)
	if len(changes) != 1 {
		t.Errorf("change reported after stop: %v", changes)
	}
}

func TestPollerDetectsOnStartAndEveryTick(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "video")
	m.SetLocation("https://www.youtube.com/watch?v=abcdefghijk", "")
	m.SetElements("video", []page.Element{{Key: "v1"}})

	rec := &confirmRecorder{}
	p := newTestPoller(c, m, time.Second, rec)
	p.Start()
	if len(rec.refs) != 1 {
		t.Fatalf("confirms after Start = %d, want 1", len(rec.refs))
	}
	c.Advance(3 * time.Second)
	if len(rec.refs) != 4 {
		t.Fatalf("confirms after 3s = %d, want 4", len(rec.refs))
	}
	want := content.Ref{Source: content.StreamVideo, ID: "abcdefghijk"}
	if rec.refs[0] != want {
		t.Errorf("ref = %v, want %v", rec.refs[0], want)
	}
}

func TestPollerNoPlayerNoSignal(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "video")
	m.SetLocation("https://www.youtube.com/watch?v=abcdefghijk", "")

	rec := &confirmRecorder{}
	p := newTestPoller(c, m, time.Second, rec)
	p.Start()
	c.Advance(5 * time.Second)
	if len(rec.refs) != 0 {
		t.Errorf("confirms without player = %d, want 0", len(rec.refs))
	}
}

func TestPollerRechecksAfterNavigationSettle(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "video")
	m.SetLocation("https://www.youtube.com/feed/subscriptions", "")

	rec := &confirmRecorder{}
	// A long presence interval isolates the settle re-check.
	p := newTestPoller(c, m, time.Hour, rec)
	p.Start()

	m.SetLocation("https://www.youtube.com/watch?v=abcdefghijk", "")
	m.SetElements("video", []page.Element{{Key: "v1"}})

	// URL sampled at +0.5s, re-check due at +2.5s.
	c.Advance(2400 * time.Millisecond)
	if len(rec.refs) != 0 {
		t.Fatalf("re-check fired before settle delay")
	}
	c.Advance(100 * time.Millisecond)
	if len(rec.refs) != 1 {
		t.Fatalf("confirms after settle = %d, want 1", len(rec.refs))
	}
}

func TestPollerNavigationRearmsSettle(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "video")
	m.SetLocation("https://www.youtube.com/watch?v=aaaaaaaaaaa", "")
	m.SetElements("video", []page.Element{{Key: "v1"}})

	rec := &confirmRecorder{}
	p := newTestPoller(c, m, time.Hour, rec)
	p.Start()
	rec.refs = nil

	m.SetLocation("https://www.youtube.com/watch?v=bbbbbbbbbbb", "")
	c.Advance(1500 * time.Millisecond) // sampled at +0.5s
	m.SetLocation("https://www.youtube.com/watch?v=ccccccccccc", "")
	c.Advance(1500 * time.Millisecond) // sampled at +2.0s, first settle cancelled
	if len(rec.refs) != 0 {
		t.Fatalf("stale settle fired: %v", rec.refs)
	}
	c.Advance(time.Second) // second settle due at +4.0s
	if len(rec.refs) != 1 || rec.refs[0].ID != "ccccccccccc" {
		t.Fatalf("refs = %v, want single ccccccccccc", rec.refs)
	}
}

func TestPollerStopCancelsTimers(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "video")
	m.SetLocation("https://www.youtube.com/feed", "")

	rec := &confirmRecorder{}
	p := newTestPoller(c, m, time.Second, rec)
	p.Start()
	m.SetLocation("https://www.youtube.com/watch?v=abcdefghijk", "")
	c.Advance(500 * time.Millisecond)

	p.Stop()
	if c.Pending() != 0 {
		t.Errorf("Pending after Stop = %d, want 0", c.Pending())
	}
	m.SetElements("video", []page.Element{{Key: "v1"}})
	c.Advance(10 * time.Second)
	if len(rec.refs) != 0 {
		t.Errorf("confirms after Stop = %d, want 0", len(rec.refs))
	}
}

func feedCandidates(p page.Page) []Candidate {
	var out []Candidate
	for _, el := range p.Query("article") {
		id, ok := content.PostID(el.Attr(content.PostIDAttr), el.HTML)
		if !ok {
			continue
		}
		out = append(out, Candidate{Key: el.Key, Ref: content.Ref{Source: content.SocialPost, ID: id}})
	}
	return out
}

func newTestDebouncer(c *clock.Fake, m *page.Mirror, rec *confirmRecorder) *Debouncer {
	cfg := DebouncerConfig{Threshold: 0.5, Confirm: 3 * time.Second}
	return NewDebouncer(c, m, cfg, feedCandidates, rec.confirm)
}

func post(key, id string) page.Element {
	return page.Element{Key: key, Attrs: map[string]string{content.PostIDAttr: id}}
}

func TestDebouncerConfirmsAfterDwell(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42"), post("n2", "43")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()
	if got := m.Observed(); !reflect.DeepEqual(got, []string{"n1", "n2"}) {
		t.Fatalf("Observed = %v, want [n1 n2]", got)
	}

	d.Intersect("n1", 0.8)
	c.Advance(2999 * time.Millisecond)
	if len(rec.refs) != 0 {
		t.Fatal("confirmed before dwell elapsed")
	}
	c.Advance(time.Millisecond)
	if len(rec.refs) != 1 || rec.refs[0].ID != "42" {
		t.Fatalf("refs = %v, want [42]", rec.refs)
	}
}

func TestDebouncerRejectsScrollThrough(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()

	d.Intersect("n1", 1.0)
	c.Advance(2 * time.Second)
	d.Intersect("n1", 0.1)
	c.Advance(10 * time.Second)
	if len(rec.refs) != 0 {
		t.Errorf("scroll-through produced %d confirms", len(rec.refs))
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", d.Pending())
	}
}

func TestDebouncerBelowThresholdNeverArms(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()

	d.Intersect("n1", 0.49)
	c.Advance(5 * time.Second)
	if len(rec.refs) != 0 || d.Pending() != 0 {
		t.Errorf("below-threshold intersection armed a timer")
	}

	d.Intersect("unknown", 1.0)
	if d.Pending() != 0 {
		t.Error("unknown key armed a timer")
	}
}

func TestDebouncerRepeatedVisibleDoesNotRearm(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()

	d.Intersect("n1", 0.6)
	c.Advance(2 * time.Second)
	d.Intersect("n1", 0.9)
	c.Advance(time.Second)
	if len(rec.refs) != 1 {
		t.Errorf("confirms = %d, want 1 at original deadline", len(rec.refs))
	}
}

func TestDebouncerRescanDropsVanishedCandidates(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42"), post("n2", "43")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()
	d.Intersect("n1", 1.0)

	m.SetElements("article", []page.Element{post("n2", "43"), post("n3", "44")})
	d.Rescan()
	if d.Pending() != 0 {
		t.Errorf("timer for vanished element still armed")
	}
	if got := m.Observed(); !reflect.DeepEqual(got, []string{"n2", "n3"}) {
		t.Errorf("Observed = %v, want [n2 n3]", got)
	}
	c.Advance(5 * time.Second)
	if len(rec.refs) != 0 {
		t.Errorf("vanished element confirmed: %v", rec.refs)
	}
}

func TestDebouncerSupersededElementCancelsTimer(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()
	d.Intersect("n1", 1.0)

	// The virtualised list recycled node n1 for another post.
	m.SetElements("article", []page.Element{post("n1", "77")})
	d.Rescan()
	c.Advance(5 * time.Second)
	if len(rec.refs) != 0 {
		t.Fatalf("recycled node confirmed stale ref: %v", rec.refs)
	}

	d.Intersect("n1", 1.0)
	c.Advance(3 * time.Second)
	if len(rec.refs) != 1 || rec.refs[0].ID != "77" {
		t.Errorf("refs = %v, want [77]", rec.refs)
	}
}

func TestDebouncerRecycledNodeIsReobserved(t *testing.T) {
	c := clock.NewFake(epoch)
	ctl := &observeRecorder{}
	m := page.NewMirror(ctl, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()
	d.Intersect("n1", 1.0)

	m.SetElements("article", []page.Element{post("n1", "77")})
	d.Rescan()

	want := []string{"observe n1", "unobserve n1", "observe n1"}
	if !reflect.DeepEqual(ctl.calls, want) {
		t.Errorf("controller calls = %v, want %v", ctl.calls, want)
	}
	if got := m.Observed(); !reflect.DeepEqual(got, []string{"n1"}) {
		t.Errorf("observed = %v, want [n1]", got)
	}

	// The fresh observation reports the node as still on screen.
	d.Intersect("n1", 1.0)
	c.Advance(3 * time.Second)
	if len(rec.refs) != 1 || rec.refs[0].ID != "77" {
		t.Errorf("refs = %v, want [77]", rec.refs)
	}
}

func TestDebouncerStop(t *testing.T) {
	c := clock.NewFake(epoch)
	m := page.NewMirror(nil, "article")
	m.SetElements("article", []page.Element{post("n1", "42")})

	rec := &confirmRecorder{}
	d := newTestDebouncer(c, m, rec)
	d.Start()
	d.Intersect("n1", 1.0)
	d.Stop()

	if c.Pending() != 0 {
		t.Errorf("Pending = %d after Stop", c.Pending())
	}
	if len(m.Observed()) != 0 {
		t.Errorf("Observed = %v after Stop", m.Observed())
	}
	d.Intersect("n1", 1.0)
	c.Advance(5 * time.Second)
	if len(rec.refs) != 0 {
		t.Errorf("confirms after Stop = %d", len(rec.refs))
	}
}
