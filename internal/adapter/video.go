package adapter

import (
	"strings"

	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/visibility"
)

const (
	PlayerSelector   = `video, #movie_player, iframe[src*="youtube.com/embed/"]`
	KeywordsSelector = `meta[name="keywords"]`

	videoTitleSuffix = " - YouTube"
	videoWatchURL    = "https://www.youtube.com/watch?v="
)

// Video tracks player-style pages by polling for the player.
type Video struct{}

func (Video) Source() content.Source { return content.StreamVideo }

func (Video) Hosts() []string {
	return []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}
}

func (Video) Selectors() []string {
	return []string{PlayerSelector, KeywordsSelector}
}

func (v Video) NewSignal(env Env) visibility.Source {
	cfg := visibility.PollerConfig{Interval: env.Timing.PollInterval, Settle: env.Timing.Settle}
	return visibility.NewPoller("video", env.Clock, env.Page, env.Watcher, cfg, v.Detect, env.Confirm)
}

// Detect resolves the video on screen. The player must be present; the ID
// comes from the page URL, else from an embedded player's src.
func (Video) Detect(p page.Page) (content.Ref, bool) {
	players := p.Query(PlayerSelector)
	if len(players) == 0 {
		return content.Ref{}, false
	}
	if id, ok := content.VideoID(p.URL()); ok {
		return content.NewRef(content.StreamVideo, id)
	}
	for _, el := range players {
		if src := el.Attr("src"); src != "" {
			if id, ok := content.VideoID(src); ok {
				return content.NewRef(content.StreamVideo, id)
			}
		}
	}
	return content.Ref{}, false
}

// Resolve always supplies the canonical URL. Title and tags come from the
// page only while it still shows ref.
func (Video) Resolve(ref content.Ref, p page.Page) (report.Metadata, bool) {
	md := report.Metadata{URL: videoWatchURL + ref.ID}
	if id, ok := content.VideoID(p.URL()); !ok || id != ref.ID {
		return md, true
	}
	md.Title = strings.TrimSpace(strings.TrimSuffix(p.Title(), videoTitleSuffix))
	for _, el := range p.Query(KeywordsSelector) {
		md.Tags = append(md.Tags, splitKeywords(el.Attr("content"))...)
	}
	return md, true
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
