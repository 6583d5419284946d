// Package page describes the browser page environment the tracker observes.
// The tracker never touches a real DOM; it reads a Page, which in the agent
// is a Mirror kept current by the browser bridge.
package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the read-only DOM surface consumed by source adapters and
// visibility sources.
type Page interface {
	// URL returns the current navigable URL.
	URL() string
	// Title returns the current document title.
	Title() string
	// Hidden reports whether the document is hidden (tab in background).
	Hidden() bool
	// Query returns the elements last reported for selector. Only selectors
	// registered with the page are mirrored; others return nil.
	Query(selector string) []Element
	// Observe asks the page to report viewport intersection for the keyed
	// elements. Unobserve stops it.
	Observe(keys ...string)
	Unobserve(keys ...string)
}

// Element is a snapshot of one DOM element. Key is a handle assigned by the
// page that stays stable for the node's lifetime.
type Element struct {
	Key   string            `json:"key"`
	Tag   string            `json:"tag,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	HTML  string            `json:"html,omitempty"`
}

// Attr returns the named attribute. Reported attributes win; otherwise the
// attribute is read from the root of the element's HTML.
func (e Element) Attr(name string) string {
	if v, ok := e.Attrs[name]; ok {
		return v
	}
	root := e.root()
	if root == nil {
		return ""
	}
	v, _ := root.Attr(name)
	return v
}

// Find runs a CSS selector against the element's HTML.
func (e Element) Find(selector string) *goquery.Selection {
	root := e.root()
	if root == nil {
		return &goquery.Selection{}
	}
	return root.Find(selector)
}

// Text returns the whitespace-collapsed text content of the element.
func (e Element) Text() string {
	root := e.root()
	if root == nil {
		return ""
	}
	return CollapseSpace(root.Text())
}

func (e Element) root() *goquery.Selection {
	if strings.TrimSpace(e.HTML) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.HTML))
	if err != nil {
		return nil
	}
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		return nil
	}
	return root
}

// CollapseSpace joins the fields of s with single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
