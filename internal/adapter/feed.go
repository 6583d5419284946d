package adapter

import (
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/visibility"
)

const (
	PostSelector     = "article"
	postTextSelector = `[data-testid="tweetText"]`
	postStatusURL    = "https://x.com/i/status/"
	maxTitleRunes    = 100
)

// Feed tracks feed-style pages by debouncing post intersections.
type Feed struct{}

func (Feed) Source() content.Source { return content.SocialPost }

func (Feed) Hosts() []string {
	return []string{"twitter.com", "x.com"}
}

func (Feed) Selectors() []string {
	return []string{PostSelector}
}

func (f Feed) NewSignal(env Env) visibility.Source {
	cfg := visibility.DebouncerConfig{Threshold: env.Timing.Threshold, Confirm: env.Timing.Confirm}
	return visibility.NewDebouncer(env.Clock, env.Page, cfg, f.Candidates, env.Confirm)
}

// Candidates lists the posts on the page that carry an identifier.
func (Feed) Candidates(p page.Page) []visibility.Candidate {
	var out []visibility.Candidate
	for _, el := range p.Query(PostSelector) {
		ref, ok := postRef(el)
		if !ok {
			continue
		}
		out = append(out, visibility.Candidate{Key: el.Key, Ref: ref})
	}
	return out
}

// Resolve reads the post text from the mirrored element when it is still on
// the page.
func (Feed) Resolve(ref content.Ref, p page.Page) (report.Metadata, bool) {
	md := report.Metadata{URL: postStatusURL + ref.ID}
	for _, el := range p.Query(PostSelector) {
		if r, ok := postRef(el); !ok || r != ref {
			continue
		}
		text := page.CollapseSpace(el.Find(postTextSelector).Text())
		if text == "" {
			text = el.Text()
		}
		md.Title = truncateRunes(text, maxTitleRunes)
		md.Tags = content.Hashtags(text)
		break
	}
	return md, true
}

func postRef(el page.Element) (content.Ref, bool) {
	id, ok := content.PostID(el.Attr(content.PostIDAttr), el.HTML)
	if !ok {
		return content.Ref{}, false
	}
	return content.NewRef(content.SocialPost, id)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
