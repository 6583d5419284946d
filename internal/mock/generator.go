// Package mock drives the agent with simulated browser pages. Each script is
// played over a real bridge connection, so everything from the bridge to the
// reporting sink runs exactly as it does for a browser.
package mock

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viewtrack/agent/internal/adapter"
	"github.com/viewtrack/agent/internal/content"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/ws"
)

// DefaultTick is the wall-clock length of one script tick.
const DefaultTick = time.Second

// Step is one bridge message sent at a tick offset from page open.
type Step struct {
	Tick    int
	Type    ws.MessageType
	Payload interface{}
}

// Script is one simulated page lifetime. The first step must be a hello.
type Script struct {
	Name  string
	Steps []Step
}

// Length returns the tick of the last step.
func (s Script) Length() int {
	n := 0
	for _, st := range s.Steps {
		if st.Tick > n {
			n = st.Tick
		}
	}
	return n
}

// VideoScript watches one video past two heartbeats, navigates to a second
// one and unloads.
func VideoScript() Script {
	player := func(id string) ws.ElementsPayload {
		return ws.ElementsPayload{
			Selector: adapter.PlayerSelector,
			Elements: []page.Element{{
				Key:   "player",
				Tag:   "iframe",
				Attrs: map[string]string{"src": "https://www.youtube.com/embed/" + id},
			}},
		}
	}
	keywords := ws.ElementsPayload{
		Selector: adapter.KeywordsSelector,
		Elements: []page.Element{{
			Key:   "kw",
			Tag:   "meta",
			Attrs: map[string]string{"name": "keywords", "content": "music, live, demo"},
		}},
	}
	return Script{
		Name: "video",
		Steps: []Step{
			{0, ws.MsgHello, ws.HelloPayload{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Title: "Demo Song - YouTube"}},
			{0, ws.MsgElements, keywords},
			{1, ws.MsgElements, player("dQw4w9WgXcQ")},
			{40, ws.MsgVisibility, ws.VisibilityPayload{Hidden: true}},
			{45, ws.MsgVisibility, ws.VisibilityPayload{Hidden: false}},
			{70, ws.MsgNavigate, ws.NavigatePayload{URL: "https://www.youtube.com/watch?v=9bZkp7q19f0", Title: "Second Clip - YouTube"}},
			{71, ws.MsgElements, player("9bZkp7q19f0")},
			{110, ws.MsgUnload, struct{}{}},
		},
	}
}

// FeedScript scrolls through a short timeline: one post is skimmed past,
// the next two are dwelt on.
func FeedScript() Script {
	posts := []struct{ key, id, text string }{
		{"a1", "1790000000000000001", "Shipping the new release today #golang #release"},
		{"a2", "1790000000000000002", "Quick thread on debouncing viewport signals #frontend"},
		{"a3", "1790000000000000003", "Weekend hike photos #outdoors"},
	}
	var els []page.Element
	for _, p := range posts {
		els = append(els, page.Element{
			Key:   p.key,
			Tag:   "article",
			Attrs: map[string]string{content.PostIDAttr: p.id},
			HTML:  fmt.Sprintf(`<article><div data-testid="tweetText">%s</div></article>`, p.text),
		})
	}
	in := func(key string) ws.IntersectPayload { return ws.IntersectPayload{Key: key, Ratio: 0.9} }
	out := func(key string) ws.IntersectPayload { return ws.IntersectPayload{Key: key, Ratio: 0} }
	return Script{
		Name: "feed",
		Steps: []Step{
			{0, ws.MsgHello, ws.HelloPayload{URL: "https://x.com/home", Title: "Home / X"}},
			{1, ws.MsgElements, ws.ElementsPayload{Selector: adapter.PostSelector, Elements: els[:1]}},
			{2, ws.MsgMutation, ws.MutationPayload{Types: []string{"childList"}}},
			{2, ws.MsgElements, ws.ElementsPayload{Selector: adapter.PostSelector, Elements: els}},
			{3, ws.MsgIntersect, in("a1")},
			{4, ws.MsgIntersect, out("a1")},
			{4, ws.MsgIntersect, in("a2")},
			{40, ws.MsgIntersect, out("a2")},
			{40, ws.MsgIntersect, in("a3")},
			{60, ws.MsgUnload, struct{}{}},
		},
	}
}

// DefaultScripts returns the scripts played by the agent's -mock mode.
func DefaultScripts() []Script {
	return []Script{VideoScript(), FeedScript()}
}

// MockGenerator replays scripts against a bridge endpoint, one simulated
// page per script, reopening each page after it unloads.
type MockGenerator struct {
	url     string
	token   string
	tick    time.Duration
	scripts []Script

	mu   sync.Mutex
	runs int
	wg   sync.WaitGroup
}

// NewGenerator creates a generator for the bridge at url.
func NewGenerator(url, token string, tick time.Duration) *MockGenerator {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &MockGenerator{url: url, token: token, tick: tick, scripts: DefaultScripts()}
}

// SetScripts replaces the scripts. Call before Start.
func (g *MockGenerator) SetScripts(scripts []Script) {
	g.scripts = scripts
}

// Start launches one player per script. Players stop when ctx is done.
func (g *MockGenerator) Start(ctx context.Context) {
	for _, s := range g.scripts {
		g.wg.Add(1)
		go g.loop(ctx, s)
	}
}

// Wait blocks until every player has stopped.
func (g *MockGenerator) Wait() {
	g.wg.Wait()
}

// Runs returns how many page lifetimes have been played to completion.
func (g *MockGenerator) Runs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs
}

func (g *MockGenerator) loop(ctx context.Context, s Script) {
	defer g.wg.Done()
	for {
		if err := g.Play(ctx, s); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[mock] %s: %v", s.Name, err)
		} else {
			g.mu.Lock()
			g.runs++
			g.mu.Unlock()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(g.tick):
		}
	}
}

// Play runs one page lifetime of s and returns once its last step is sent.
func (g *MockGenerator) Play(ctx context.Context, s Script) error {
	var header http.Header
	if g.token != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+g.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, header)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer conn.Close()

	// Drain watch/observe requests so control frames are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	last := s.Length()
	for tick := 0; ; tick++ {
		for _, st := range s.Steps {
			if st.Tick != tick {
				continue
			}
			if err := conn.WriteJSON(ws.WSMessage{Type: st.Type, Payload: st.Payload}); err != nil {
				return fmt.Errorf("send %s at tick %d: %w", st.Type, tick, err)
			}
		}
		if tick >= last {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
