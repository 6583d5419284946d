package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viewtrack/agent/internal/adapter"
	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/tracker"
)

const testToken = "tok"

type recordingSink struct {
	mu    sync.Mutex
	sends []report.EngagementReport
}

func (s *recordingSink) Send(r report.EngagementReport, isHeartbeat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IsHeartbeat = isHeartbeat
	s.sends = append(s.sends, r)
}

func (s *recordingSink) all() []report.EngagementReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report.EngagementReport(nil), s.sends...)
}

type fixture struct {
	srv  *httptest.Server
	hub  *Hub
	feed *Broadcaster
	sink *recordingSink
	clk  *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sink: &recordingSink{},
		clk:  clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
	}
	f.hub = NewHub(context.Background(), tracker.Config{Timing: adapter.DefaultTiming}, adapter.Default(), f.sink)
	f.hub.clock = f.clk
	health := report.NewHealth(1, 5)
	f.feed = NewBroadcaster(f.hub, health, 10*time.Millisecond, time.Hour, 0)
	f.hub.SetFeed(f.feed)

	s := NewServer(f.hub, f.feed, health, nil, testToken)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.hub.Shutdown()
		f.feed.Stop()
		f.srv.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path + "?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, typ MessageType, payload interface{}) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{Type: typ, Payload: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) inboundMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) page(id string) *pageConn {
	f.hub.mu.RLock()
	defer f.hub.mu.RUnlock()
	return f.hub.pages[id]
}

func openPage(t *testing.T, f *fixture, url string) (*websocket.Conn, WatchPayload) {
	t.Helper()
	conn := f.dial(t, "/bridge")
	sendMsg(t, conn, MsgHello, HelloPayload{URL: url, Title: "Song - YouTube"})
	var watch WatchPayload
	if err := json.Unmarshal(readUntil(t, conn, MsgWatch).Payload, &watch); err != nil {
		t.Fatalf("decode watch: %v", err)
	}
	if watch.PageID == "" {
		t.Fatal("watch without page id")
	}
	return conn, watch
}

func TestBridgeVideoLifecycle(t *testing.T) {
	f := newFixture(t)
	feed := f.dial(t, "/feed")
	readUntil(t, feed, MsgSnapshot)

	conn, watch := openPage(t, f, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if len(watch.Selectors) != 2 {
		t.Errorf("selectors = %v, want player and keywords", watch.Selectors)
	}

	sendMsg(t, conn, MsgElements, ElementsPayload{
		Selector: adapter.PlayerSelector,
		Elements: []page.Element{{Key: "player", Tag: "video"}},
	})
	waitFor(t, "player mirrored", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && len(pc.mirror.Query(adapter.PlayerSelector)) == 1 && f.clk.Pending() > 0
	})

	f.clk.Advance(time.Second)
	waitFor(t, "session start", func() bool {
		snap, ok := f.hub.Snapshot(watch.PageID)
		return ok && snap.State == session.Active
	})

	var lc LifecyclePayload
	json.Unmarshal(readUntil(t, feed, MsgLifecycle).Payload, &lc)
	if lc.PageID != watch.PageID || lc.Event.Type != session.EventStart {
		t.Errorf("lifecycle = %+v", lc)
	}

	sendMsg(t, conn, MsgUnload, struct{}{})
	waitFor(t, "page removed", func() bool { return f.hub.Count() == 0 })

	sends := f.sink.all()
	if len(sends) != 1 {
		t.Fatalf("sends = %+v, want one final report", sends)
	}
	if r := sends[0]; r.IsHeartbeat || r.ContentID != "dQw4w9WgXcQ" || r.ContentTitle != "Song" {
		t.Errorf("final report = %+v", r)
	}
}

func TestBridgeDisconnectCountsAsUnload(t *testing.T) {
	f := newFixture(t)
	conn, watch := openPage(t, f, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	sendMsg(t, conn, MsgElements, ElementsPayload{
		Selector: adapter.PlayerSelector,
		Elements: []page.Element{{Key: "player", Tag: "video"}},
	})
	waitFor(t, "player mirrored", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && len(pc.mirror.Query(adapter.PlayerSelector)) == 1 && f.clk.Pending() > 0
	})
	f.clk.Advance(time.Second)
	waitFor(t, "session start", func() bool {
		snap, ok := f.hub.Snapshot(watch.PageID)
		return ok && snap.State == session.Active
	})

	conn.Close()
	waitFor(t, "final report", func() bool { return len(f.sink.all()) == 1 })
	if f.sink.all()[0].IsHeartbeat {
		t.Error("disconnect should produce a final report")
	}
}

func TestHubShutdownSendsFinalReports(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.hub.ctx = ctx

	conn, watch := openPage(t, f, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	sendMsg(t, conn, MsgElements, ElementsPayload{
		Selector: adapter.PlayerSelector,
		Elements: []page.Element{{Key: "player", Tag: "video"}},
	})
	waitFor(t, "player mirrored", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && len(pc.mirror.Query(adapter.PlayerSelector)) == 1 && f.clk.Pending() > 0
	})
	f.clk.Advance(time.Second)
	waitFor(t, "session start", func() bool {
		snap, ok := f.hub.Snapshot(watch.PageID)
		return ok && snap.State == session.Active
	})
	f.clk.Advance(5 * time.Second)

	cancel()
	f.hub.Shutdown()

	sends := f.sink.all()
	if len(sends) != 1 {
		t.Fatalf("sends = %+v, want one final report", sends)
	}
	if r := sends[0]; r.IsHeartbeat || r.ContentID != "dQw4w9WgXcQ" || r.WatchDuration != 5 {
		t.Errorf("final report = %+v", r)
	}
}

func TestBridgeFeedObserveRouting(t *testing.T) {
	f := newFixture(t)
	conn, watch := openPage(t, f, "https://x.com/home")
	if len(watch.Selectors) != 1 || watch.Selectors[0] != adapter.PostSelector {
		t.Fatalf("selectors = %v", watch.Selectors)
	}

	sendMsg(t, conn, MsgElements, ElementsPayload{
		Selector: adapter.PostSelector,
		Elements: []page.Element{{Key: "k1", Attrs: map[string]string{"data-tweet-id": "42"}}},
	})
	var obs ObservePayload
	json.Unmarshal(readUntil(t, conn, MsgObserve).Payload, &obs)
	if len(obs.Keys) != 1 || obs.Keys[0] != "k1" {
		t.Errorf("observe = %v", obs.Keys)
	}

	sendMsg(t, conn, MsgElements, ElementsPayload{Selector: adapter.PostSelector, Elements: nil})
	json.Unmarshal(readUntil(t, conn, MsgUnobserve).Payload, &obs)
	if len(obs.Keys) != 1 || obs.Keys[0] != "k1" {
		t.Errorf("unobserve = %v", obs.Keys)
	}
}

func TestBridgeToleratesBadMessages(t *testing.T) {
	f := newFixture(t)
	conn, watch := openPage(t, f, "https://x.com/home")

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	sendMsg(t, conn, "teleport", struct{}{})
	sendMsg(t, conn, MsgIntersect, "not an object")
	sendMsg(t, conn, MsgElements, ElementsPayload{Selector: "video", Elements: nil})
	sendMsg(t, conn, MsgNavigate, NavigatePayload{URL: "https://x.com/explore", Title: "Explore / X"})

	waitFor(t, "navigation applied", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && pc.mirror.URL() == "https://x.com/explore"
	})
	if f.hub.Count() != 1 {
		t.Error("bad messages should not close the page")
	}
}

func TestBridgeVisibilityUpdatesMirror(t *testing.T) {
	f := newFixture(t)
	conn, watch := openPage(t, f, "https://x.com/home")
	sendMsg(t, conn, MsgVisibility, VisibilityPayload{Hidden: true})
	waitFor(t, "hidden", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && pc.mirror.Hidden()
	})
}

func TestBridgeTitleUpdatesMirror(t *testing.T) {
	f := newFixture(t)
	conn, watch := openPage(t, f, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	sendMsg(t, conn, MsgTitle, TitlePayload{Title: "Late Title - YouTube"})
	waitFor(t, "title", func() bool {
		pc := f.page(watch.PageID)
		return pc != nil && pc.mirror.Title() == "Late Title - YouTube"
	})
}

func TestBridgeRejectsUnsupportedPage(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/bridge")
	sendMsg(t, conn, MsgHello, HelloPayload{URL: "https://example.com/"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read = %v, want normal close", err)
	}
	if f.hub.Count() != 0 {
		t.Error("unsupported page should not be registered")
	}
}

func TestBridgeRequiresHelloFirst(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/bridge")
	sendMsg(t, conn, MsgIntersect, IntersectPayload{Key: "a", Ratio: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection should close when the first message is not hello")
	}
}

func TestBridgeRequiresToken(t *testing.T) {
	f := newFixture(t)
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/bridge"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestFeedResync(t *testing.T) {
	f := newFixture(t)
	feed := f.dial(t, "/feed")
	readUntil(t, feed, MsgSnapshot)

	openPage(t, f, "https://x.com/home")
	sendMsg(t, feed, MsgResync, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var snap SnapshotPayload
		json.Unmarshal(readUntil(t, feed, MsgSnapshot).Payload, &snap)
		if len(snap.Pages) == 1 {
			return
		}
	}
	t.Fatal("resync snapshot never listed the page")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
		Pages  int    `json:"pages"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", resp.StatusCode, body)
	}
}

func TestMetricsRequiresAuth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated /metrics = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/metrics?token=" + testToken)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", resp.StatusCode)
	}
}

func TestBridgeRejectsBlockedPage(t *testing.T) {
	f := newFixture(t)
	f.hub.cfg.Privacy = &report.PrivacyFilter{BlockedPages: []string{"x.com/messages"}}
	conn := f.dial(t, "/bridge")
	sendMsg(t, conn, MsgHello, HelloPayload{URL: "https://x.com/messages/99"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read = %v, want normal close", err)
	}
	if f.hub.Count() != 0 {
		t.Error("blocked page should not be registered")
	}
}

func TestBridgeNavigateToBlockedPageEndsLifetime(t *testing.T) {
	f := newFixture(t)
	f.hub.cfg.Privacy = &report.PrivacyFilter{BlockedPages: []string{"x.com/messages"}}
	conn, watch := openPage(t, f, "https://x.com/home")
	if f.page(watch.PageID) == nil {
		t.Fatal("page not registered")
	}

	sendMsg(t, conn, MsgNavigate, NavigatePayload{URL: "https://x.com/messages/99", Title: "Messages / X"})
	waitFor(t, "page closed", func() bool { return f.hub.Count() == 0 })
}
