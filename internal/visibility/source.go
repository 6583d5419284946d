// Package visibility turns raw, noisy page presence signals into debounced
// "confirmed viewing" signals, one content ref at a time.
//
// Sources are not safe for concurrent use. The tracker drives every source
// from its single event loop, including timer callbacks.
package visibility

import (
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
)

// ConfirmFunc receives a confirmed viewing signal.
type ConfirmFunc func(ref content.Ref)

// Source is a visibility signal source for one content source type.
type Source interface {
	Start()
	Stop()
}

// Rescanner is implemented by sources that need to re-scan the page for
// candidate elements after structural DOM changes.
type Rescanner interface {
	Rescan()
}

// IntersectionHandler is implemented by sources that consume viewport
// intersection reports.
type IntersectionHandler interface {
	Intersect(key string, ratio float64)
}

// DetectFunc resolves the content currently presented by the page's player,
// if any.
type DetectFunc func(p page.Page) (content.Ref, bool)

// Candidate is one element that may become a confirmed view.
type Candidate struct {
	Key string
	Ref content.Ref
}

// CandidatesFunc lists the candidate elements currently on the page.
type CandidatesFunc func(p page.Page) []Candidate

// Mutation record types as reported by a MutationObserver.
const (
	MutationChildList     = "childList"
	MutationAttributes    = "attributes"
	MutationCharacterData = "characterData"
)

// Structural reports whether a batch of mutation record types changed the
// DOM structure. Attribute and text-only batches never trigger a rescan.
func Structural(types []string) bool {
	for _, t := range types {
		if t == MutationChildList {
			return true
		}
	}
	return false
}
