package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/tracker"
)

// ErrTooManyConnections is returned by AddClient when the feed is full.
var ErrTooManyConnections = errors.New("too many feed connections")

// PageLister is the page registry the feed reads snapshots from.
type PageLister interface {
	Snapshots() []tracker.Snapshot
	Snapshot(id string) (tracker.Snapshot, bool)
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	once sync.Once
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans page and session activity out to feed observers. Page
// updates are coalesced and flushed at most once per throttle window; slow
// clients are disconnected.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	pages    PageLister
	health   *report.Health
	throttle time.Duration

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once

	flushMu        sync.Mutex
	pendingUpdates map[string]bool
	pendingRemoved []string
	flushTimer     *time.Timer
}

func NewBroadcaster(pages PageLister, health *report.Health, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		pages:          pages,
		health:         health,
		throttle:       throttle,
		stop:           make(chan struct{}),
		pendingUpdates: make(map[string]bool),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b)
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()

	metricFeedClients.Set(float64(n))
	b.SendSnapshot(c)
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	n := len(b.clients)
	b.mu.Unlock()
	metricFeedClients.Set(float64(n))
}

// SendSnapshot queues a full snapshot for one client.
func (b *Broadcaster) SendSnapshot(c *client) {
	data, err := json.Marshal(b.snapshot())
	if err != nil {
		log.Printf("[feed] snapshot marshal error: %v", err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}
}

// QueuePage marks a page as changed. Its snapshot goes out with the next
// flush.
func (b *Broadcaster) QueuePage(id string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates[id] = true
	b.armFlushLocked()
}

// QueueRemoval announces that a page lifetime ended.
func (b *Broadcaster) QueueRemoval(id string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	delete(b.pendingUpdates, id)
	b.pendingRemoved = append(b.pendingRemoved, id)
	b.armFlushLocked()
}

func (b *Broadcaster) armFlushLocked() {
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// PublishLifecycle forwards a session event from page id. It runs on the
// page's tracker loop, so it only queues work.
func (b *Broadcaster) PublishLifecycle(id string, e session.Event) {
	b.broadcast(WSMessage{Type: MsgLifecycle, Payload: LifecyclePayload{PageID: id, Event: e}})
	b.QueuePage(id)
}

// PublishResult forwards a delivery outcome and the sink health after it.
func (b *Broadcaster) PublishResult(r report.Result) {
	b.broadcast(WSMessage{Type: MsgReport, Payload: ReportPayload{Result: r}})
	if b.health != nil {
		b.broadcast(WSMessage{Type: MsgSinkHealth, Payload: b.health.Snapshot()})
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	ids := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = make(map[string]bool)
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	var updates []tracker.Snapshot
	for id := range ids {
		if snap, ok := b.pages.Snapshot(id); ok {
			updates = append(updates, snap)
		}
	}
	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshot() WSMessage {
	payload := SnapshotPayload{Pages: b.pages.Snapshots()}
	if payload.Pages == nil {
		payload.Pages = []tracker.Snapshot{}
	}
	if b.health != nil {
		payload.Sink = b.health.Snapshot()
	}
	return WSMessage{Type: MsgSnapshot, Payload: payload}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.snapshotTicker.C:
			if b.ClientCount() > 0 {
				b.broadcast(b.snapshot())
			}
		case <-b.stop:
			return
		}
	}
}

// Stop ends periodic snapshots and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.stop)
	})
	b.flushMu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.flushMu.Unlock()

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
	metricFeedClients.Set(0)
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[feed] broadcast marshal error: %v", err)
		return
	}

	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	// Clients that can't keep up are disconnected.
	for _, c := range slow {
		log.Printf("[feed] client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
