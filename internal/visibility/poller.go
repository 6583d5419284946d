package visibility

import (
	"log"
	"time"

	"github.com/viewtrack/agent/internal/clock"
	"github.com/viewtrack/agent/internal/page"
)

// PollerConfig holds the player-style cadences.
type PollerConfig struct {
	Interval time.Duration // presence re-check cadence
	Settle   time.Duration // delay before re-checking after a URL change
}

// Poller is the player-style source. It re-checks for a player and a
// resolvable content ref on a fixed cadence, and re-checks once more after
// a settle delay whenever the page URL changes without a reload.
type Poller struct {
	name    string
	clock   clock.Clock
	page    page.Page
	watcher ChangeWatcher
	cfg     PollerConfig
	detect  DetectFunc
	confirm ConfirmFunc

	running   bool
	ticker    clock.Timer
	stopWatch func()
	settle    *armed
}

// armed wraps a pending timer so a callback can tell whether it is still the
// current one after a cancel and re-arm.
type armed struct {
	timer clock.Timer
}

func NewPoller(name string, c clock.Clock, p page.Page, w ChangeWatcher, cfg PollerConfig, detect DetectFunc, confirm ConfirmFunc) *Poller {
	return &Poller{
		name:    name,
		clock:   c,
		page:    p,
		watcher: w,
		cfg:     cfg,
		detect:  detect,
		confirm: confirm,
	}
}

func (p *Poller) Start() {
	if p.running {
		return
	}
	p.running = true
	p.ticker = clock.Every(p.clock, p.cfg.Interval, p.check)
	p.stopWatch = p.watcher.Watch(p.page.URL, p.onURLChange)
	p.check()
}

func (p *Poller) Stop() {
	if !p.running {
		return
	}
	p.running = false
	p.ticker.Stop()
	p.stopWatch()
	p.cancelSettle()
}

func (p *Poller) onURLChange(prev, next string) {
	log.Printf("[%s] navigation %s -> %s, re-checking in %s", p.name, prev, next, p.cfg.Settle)
	p.cancelSettle()
	a := &armed{}
	a.timer = p.clock.AfterFunc(p.cfg.Settle, func() {
		if p.settle != a {
			return
		}
		p.settle = nil
		p.check()
	})
	p.settle = a
}

func (p *Poller) cancelSettle() {
	if p.settle != nil {
		p.settle.timer.Stop()
		p.settle = nil
	}
}

func (p *Poller) check() {
	if !p.running {
		return
	}
	ref, ok := p.detect(p.page)
	if !ok {
		return
	}
	p.confirm(ref)
}
