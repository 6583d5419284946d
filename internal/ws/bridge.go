package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/viewtrack/agent/internal/adapter"
	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/page"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/tracker"
)

const (
	helloTimeout   = 10 * time.Second
	maxBridgeFrame = 4 << 20
)

// Hub owns the live page lifetimes. Each bridge connection is one page with
// its own mirror and tracker.
type Hub struct {
	ctx      context.Context
	cfg      tracker.Config
	registry *adapter.Registry
	sink     report.Sink
	clock    clock.Clock
	feed     *Broadcaster

	mu    sync.RWMutex
	pages map[string]*pageConn
}

func NewHub(ctx context.Context, cfg tracker.Config, registry *adapter.Registry, sink report.Sink) *Hub {
	return &Hub{
		ctx:      ctx,
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		clock:    clock.Real{},
		pages:    make(map[string]*pageConn),
	}
}

// SetFeed configures the broadcaster page activity is published to. Must be
// called before the hub serves connections.
func (h *Hub) SetFeed(feed *Broadcaster) {
	h.feed = feed
}

// pageConn is one bridge connection. It is the mirror's Controller, so
// observe requests from the tracker loop are queued, never written inline.
type pageConn struct {
	id      string
	opened  time.Time
	conn    *websocket.Conn
	send    chan []byte
	mirror  *page.Mirror
	tracker *tracker.Tracker
}

func (pc *pageConn) Observe(keys []string) {
	pc.queue(WSMessage{Type: MsgObserve, Payload: ObservePayload{Keys: keys}})
}

func (pc *pageConn) Unobserve(keys []string) {
	pc.queue(WSMessage{Type: MsgUnobserve, Payload: ObservePayload{Keys: keys}})
}

func (pc *pageConn) queue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[bridge] page %s: marshal %s: %v", pc.id, msg.Type, err)
		return
	}
	select {
	case pc.send <- data:
	default:
		log.Printf("[bridge] page %s: send buffer full, dropping %s", pc.id, msg.Type)
	}
}

func (pc *pageConn) writePump() {
	for msg := range pc.send {
		if err := pc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// Drain so queue never blocks; the reader notices the dead conn.
			for range pc.send {
			}
			return
		}
	}
}

// Serve runs one page lifetime on conn and returns when the page unloads or
// the connection drops.
func (h *Hub) Serve(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxBridgeFrame)

	hello, err := readHello(conn)
	if err != nil {
		log.Printf("[bridge] %s: %v", conn.RemoteAddr(), err)
		return
	}

	if !h.cfg.Privacy.IsAllowed(hello.URL) {
		log.Printf("[bridge] %s is blocked by privacy settings, closing", hello.URL)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "blocked page"))
		return
	}

	adapters := h.registry.Match(hello.URL)
	if len(adapters) == 0 {
		log.Printf("[bridge] no source for %s, closing", hello.URL)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsupported page"))
		return
	}

	pc := &pageConn{
		id:     uuid.NewString(),
		opened: time.Now(),
		conn:   conn,
		send:   make(chan []byte, 64),
	}
	go pc.writePump()
	defer close(pc.send)

	selectors := adapter.Selectors(adapters)
	pc.mirror = page.NewMirror(pc, selectors...)
	pc.mirror.SetLocation(hello.URL, hello.Title)
	pc.mirror.SetHidden(hello.Hidden)
	pc.tracker = tracker.New(tracker.Options{
		ID:       pc.id,
		Config:   h.cfg,
		Clock:    h.clock,
		Page:     pc.mirror,
		Adapters: adapters,
		Resolver: h.registry.Resolver(pc.mirror),
		Sink:     h.sink,
		Observer: session.EmitterFunc(func(e session.Event) {
			if h.feed != nil {
				h.feed.PublishLifecycle(pc.id, e)
			}
		}),
	})

	h.add(pc)
	defer h.remove(pc)

	pc.queue(WSMessage{Type: MsgWatch, Payload: WatchPayload{PageID: pc.id, Selectors: selectors}})
	pc.tracker.Start(h.ctx)
	log.Printf("[bridge] page %s opened: %s", pc.id, hello.URL)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[bridge] page %s disconnected without unload: %v", pc.id, err)
			break
		}
		if !h.handle(pc, data) {
			break
		}
	}
	pc.tracker.Unload()
}

func readHello(conn *websocket.Conn) (HelloPayload, error) {
	var hello HelloPayload
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return hello, fmt.Errorf("decode hello: %w", err)
	}
	if msg.Type != MsgHello {
		return hello, fmt.Errorf("expected hello, got %q", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return hello, fmt.Errorf("decode hello payload: %w", err)
	}
	if hello.URL == "" {
		return hello, fmt.Errorf("hello without url")
	}
	return hello, nil
}

// handle routes one page message. It returns false when the page unloaded.
func (h *Hub) handle(pc *pageConn, data []byte) bool {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[bridge] page %s: bad message: %v", pc.id, err)
		return true
	}
	metricBridgeMessages.WithLabelValues(bridgeLabel(msg.Type)).Inc()

	switch msg.Type {
	case MsgNavigate:
		var p NavigatePayload
		if h.decode(pc, msg, &p) {
			if !h.cfg.Privacy.IsAllowed(p.URL) {
				log.Printf("[bridge] page %s navigated to a blocked page, closing", pc.id)
				return false
			}
			pc.mirror.SetLocation(p.URL, p.Title)
			h.touch(pc)
		}
	case MsgElements:
		var p ElementsPayload
		if h.decode(pc, msg, &p) {
			if !pc.mirror.SetElements(p.Selector, p.Elements) {
				log.Printf("[bridge] page %s: elements for unwatched selector %q", pc.id, p.Selector)
				return true
			}
			pc.tracker.ElementsChanged()
		}
	case MsgIntersect:
		var p IntersectPayload
		if h.decode(pc, msg, &p) {
			pc.tracker.Intersect(p.Key, p.Ratio)
		}
	case MsgMutation:
		var p MutationPayload
		if h.decode(pc, msg, &p) {
			pc.tracker.Mutation(p.Types)
		}
	case MsgTitle:
		var p TitlePayload
		if h.decode(pc, msg, &p) {
			pc.mirror.SetTitle(p.Title)
		}
	case MsgVisibility:
		var p VisibilityPayload
		if h.decode(pc, msg, &p) {
			pc.mirror.SetHidden(p.Hidden)
			pc.tracker.SetHidden(p.Hidden)
			h.touch(pc)
		}
	case MsgUnload:
		log.Printf("[bridge] page %s unloaded", pc.id)
		return false
	default:
		log.Printf("[bridge] page %s: unknown message type %q", pc.id, msg.Type)
	}
	return true
}

// bridgeLabel bounds the metric label set to known message types.
func bridgeLabel(t MessageType) string {
	switch t {
	case MsgNavigate, MsgTitle, MsgElements, MsgIntersect, MsgMutation, MsgVisibility, MsgUnload:
		return string(t)
	}
	return "unknown"
}

func (h *Hub) decode(pc *pageConn, msg inboundMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		log.Printf("[bridge] page %s: bad %s payload: %v", pc.id, msg.Type, err)
		return false
	}
	return true
}

func (h *Hub) add(pc *pageConn) {
	h.mu.Lock()
	h.pages[pc.id] = pc
	n := len(h.pages)
	h.mu.Unlock()
	metricActivePages.Set(float64(n))
	h.touch(pc)
}

func (h *Hub) remove(pc *pageConn) {
	h.mu.Lock()
	delete(h.pages, pc.id)
	n := len(h.pages)
	h.mu.Unlock()
	metricActivePages.Set(float64(n))
	if h.feed != nil {
		h.feed.QueueRemoval(pc.id)
	}
}

func (h *Hub) touch(pc *pageConn) {
	if h.feed != nil {
		h.feed.QueuePage(pc.id)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pages)
}

// Snapshots returns every live page, oldest first.
func (h *Hub) Snapshots() []tracker.Snapshot {
	h.mu.RLock()
	pages := make([]*pageConn, 0, len(h.pages))
	for _, pc := range h.pages {
		pages = append(pages, pc)
	}
	h.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].opened.Before(pages[j].opened) })
	out := make([]tracker.Snapshot, 0, len(pages))
	for _, pc := range pages {
		out = append(out, pc.tracker.Snapshot())
	}
	return out
}

func (h *Hub) Snapshot(id string) (tracker.Snapshot, bool) {
	h.mu.RLock()
	pc, ok := h.pages[id]
	h.mu.RUnlock()
	if !ok {
		return tracker.Snapshot{}, false
	}
	return pc.tracker.Snapshot(), true
}

// Shutdown unloads every live page so open sessions get their final
// report.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	pages := make([]*pageConn, 0, len(h.pages))
	for _, pc := range h.pages {
		pages = append(pages, pc)
	}
	h.mu.RUnlock()

	for _, pc := range pages {
		pc.tracker.Unload()
		pc.conn.Close()
	}
	log.Printf("[bridge] unloaded %d page(s) on shutdown", len(pages))
}
