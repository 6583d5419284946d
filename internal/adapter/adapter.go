// Package adapter holds the per-source glue between a page and the tracker:
// which pages a source applies to, what the page must mirror, how visibility
// is detected and how report metadata is resolved.
package adapter

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/visibility"
)

// Timing carries the visibility intervals and thresholds.
type Timing struct {
	PollInterval time.Duration
	URLWatch     time.Duration
	Settle       time.Duration
	Threshold    float64
	Confirm      time.Duration
}

// DefaultTiming matches the agent's configuration defaults.
var DefaultTiming = Timing{
	PollInterval: time.Second,
	URLWatch:     500 * time.Millisecond,
	Settle:       2 * time.Second,
	Threshold:    0.5,
	Confirm:      3 * time.Second,
}

// Env is what an adapter needs to build its visibility source.
type Env struct {
	Clock   clock.Clock
	Page    page.Page
	Watcher visibility.ChangeWatcher
	Timing  Timing
	Confirm visibility.ConfirmFunc
}

// Adapter is one content source. Adding a source means adding an Adapter.
type Adapter interface {
	Source() content.Source
	// Hosts lists the host names the adapter applies to. Subdomains match.
	Hosts() []string
	// Selectors lists the CSS selectors the page must mirror.
	Selectors() []string
	NewSignal(env Env) visibility.Source
	Resolve(ref content.Ref, p page.Page) (report.Metadata, bool)
}

// Registry holds the known adapters.
type Registry struct {
	adapters []Adapter
	bySource map[content.Source]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{bySource: make(map[content.Source]Adapter)}
	for _, a := range adapters {
		r.adapters = append(r.adapters, a)
		r.bySource[a.Source()] = a
	}
	return r
}

// Default returns a registry with every built-in adapter.
func Default() *Registry {
	return NewRegistry(Video{}, Feed{})
}

func (r *Registry) All() []Adapter {
	return r.adapters
}

func (r *Registry) Get(src content.Source) (Adapter, bool) {
	a, ok := r.bySource[src]
	return a, ok
}

// Match returns the adapters applicable to rawURL.
func (r *Registry) Match(rawURL string) []Adapter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil
	}
	var out []Adapter
	for _, a := range r.adapters {
		if hostMatches(host, a.Hosts()) {
			out = append(out, a)
		}
	}
	return out
}

func hostMatches(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Selectors returns the sorted union of the adapters' selectors.
func Selectors(adapters []Adapter) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range adapters {
		for _, s := range a.Selectors() {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resolver returns a report.Resolver that resolves refs against p using the
// adapter registered for each ref's source.
func (r *Registry) Resolver(p page.Page) report.Resolver {
	return report.ResolverFunc(func(ref content.Ref) (report.Metadata, bool) {
		a, ok := r.Get(ref.Source)
		if !ok {
			return report.Metadata{}, false
		}
		return a.Resolve(ref, p)
	})
}
