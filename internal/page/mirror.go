package page

import (
	"sort"
	"sync"
)

// Controller forwards observation requests back to the real page.
type Controller interface {
	Observe(keys []string)
	Unobserve(keys []string)
}

// Mirror is a Page whose state is pushed by the browser. The bridge reader
// writes it while the tracker loop reads it, so all access is locked.
type Mirror struct {
	mu        sync.RWMutex
	url       string
	title     string
	hidden    bool
	selectors map[string]bool
	elements  map[string][]Element
	observed  map[string]bool
	ctl       Controller
}

// NewMirror creates a Mirror that mirrors the given selectors. ctl may be
// nil, in which case observation requests are only recorded.
func NewMirror(ctl Controller, selectors ...string) *Mirror {
	m := &Mirror{
		selectors: make(map[string]bool, len(selectors)),
		elements:  make(map[string][]Element),
		observed:  make(map[string]bool),
		ctl:       ctl,
	}
	for _, s := range selectors {
		m.selectors[s] = true
	}
	return m
}

func (m *Mirror) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.url
}

func (m *Mirror) Title() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.title
}

func (m *Mirror) Hidden() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hidden
}

func (m *Mirror) Query(selector string) []Element {
	m.mu.RLock()
	defer m.mu.RUnlock()
	els := m.elements[selector]
	if len(els) == 0 {
		return nil
	}
	out := make([]Element, len(els))
	copy(out, els)
	return out
}

func (m *Mirror) Observe(keys ...string) {
	fresh := m.markObserved(keys, true)
	if len(fresh) > 0 && m.ctl != nil {
		m.ctl.Observe(fresh)
	}
}

func (m *Mirror) Unobserve(keys ...string) {
	gone := m.markObserved(keys, false)
	if len(gone) > 0 && m.ctl != nil {
		m.ctl.Unobserve(gone)
	}
}

// markObserved flips the observed flag and returns the keys that changed.
func (m *Mirror) markObserved(keys []string, on bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []string
	for _, k := range keys {
		if m.observed[k] == on {
			continue
		}
		if on {
			m.observed[k] = true
		} else {
			delete(m.observed, k)
		}
		changed = append(changed, k)
	}
	return changed
}

// Observed returns the keys currently under observation, sorted.
func (m *Mirror) Observed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.observed))
	for k := range m.observed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Selectors returns the mirrored selectors, sorted.
func (m *Mirror) Selectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.selectors))
	for s := range m.selectors {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetLocation records a navigation. An empty title keeps the previous one.
func (m *Mirror) SetLocation(url, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	if title != "" {
		m.title = title
	}
}

func (m *Mirror) SetTitle(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.title = title
}

func (m *Mirror) SetHidden(hidden bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = hidden
}

// SetElements replaces the element list for a mirrored selector. It reports
// false for selectors the mirror was not asked to track.
func (m *Mirror) SetElements(selector string, els []Element) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selectors[selector] {
		return false
	}
	m.elements[selector] = els
	return true
}
