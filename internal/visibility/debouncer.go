package visibility

import (
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
)

// DebouncerConfig holds the feed-style visibility parameters.
type DebouncerConfig struct {
	Threshold float64       // minimum visible area ratio
	Confirm   time.Duration // dwell before a visible element counts as viewed
}

// Debouncer is the feed-style source. Candidates are observed for viewport
// intersection; an element must stay at least Threshold visible for the
// whole Confirm delay before it is reported. Fast scroll-throughs never
// produce a signal.
type Debouncer struct {
	clock      clock.Clock
	page       page.Page
	cfg        DebouncerConfig
	candidates CandidatesFunc
	confirm    ConfirmFunc

	running bool
	known   map[string]content.Ref
	visible map[string]bool
	pending map[string]*armed
}

func NewDebouncer(c clock.Clock, p page.Page, cfg DebouncerConfig, candidates CandidatesFunc, confirm ConfirmFunc) *Debouncer {
	return &Debouncer{
		clock:      c,
		page:       p,
		cfg:        cfg,
		candidates: candidates,
		confirm:    confirm,
		known:      make(map[string]content.Ref),
		visible:    make(map[string]bool),
		pending:    make(map[string]*armed),
	}
}

func (d *Debouncer) Start() {
	if d.running {
		return
	}
	d.running = true
	d.Rescan()
}

// Stop cancels every pending confirmation and stops observing candidates.
func (d *Debouncer) Stop() {
	if !d.running {
		return
	}
	d.running = false
	keys := make([]string, 0, len(d.known))
	for key := range d.known {
		d.cancel(key)
		keys = append(keys, key)
	}
	d.known = make(map[string]content.Ref)
	d.visible = make(map[string]bool)
	if len(keys) > 0 {
		d.page.Unobserve(keys...)
	}
}

// Rescan reconciles the observed set with the page. New candidates are
// observed; vanished ones are unobserved and their timers cancelled; a key
// whose element now resolves to another ref is treated as superseded and
// re-observed, since the page only reports intersection on threshold
// crossings or on a new observation.
func (d *Debouncer) Rescan() {
	if !d.running {
		return
	}
	seen := make(map[string]bool)
	var fresh, recycled []string
	for _, c := range d.candidates(d.page) {
		seen[c.Key] = true
		old, ok := d.known[c.Key]
		if ok && old == c.Ref {
			continue
		}
		if ok {
			d.cancel(c.Key)
			d.visible[c.Key] = false
			recycled = append(recycled, c.Key)
		}
		d.known[c.Key] = c.Ref
		fresh = append(fresh, c.Key)
	}
	if len(recycled) > 0 {
		d.page.Unobserve(recycled...)
	}
	var gone []string
	for key := range d.known {
		if seen[key] {
			continue
		}
		d.cancel(key)
		delete(d.known, key)
		delete(d.visible, key)
		gone = append(gone, key)
	}
	if len(fresh) > 0 {
		d.page.Observe(fresh...)
	}
	if len(gone) > 0 {
		d.page.Unobserve(gone...)
	}
}

// Intersect handles an intersection report for a candidate element.
func (d *Debouncer) Intersect(key string, ratio float64) {
	if !d.running {
		return
	}
	ref, ok := d.known[key]
	if !ok {
		return
	}
	if ratio < d.cfg.Threshold {
		d.visible[key] = false
		d.cancel(key)
		return
	}
	if d.visible[key] {
		return
	}
	d.visible[key] = true
	a := &armed{}
	a.timer = d.clock.AfterFunc(d.cfg.Confirm, func() { d.fire(key, ref, a) })
	d.pending[key] = a
}

func (d *Debouncer) fire(key string, ref content.Ref, a *armed) {
	if d.pending[key] != a {
		return
	}
	delete(d.pending, key)
	if !d.running || !d.visible[key] || d.known[key] != ref {
		return
	}
	d.confirm(ref)
}

func (d *Debouncer) cancel(key string) {
	if a, ok := d.pending[key]; ok {
		a.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports how many confirmation timers are armed.
func (d *Debouncer) Pending() int {
	return len(d.pending)
}
