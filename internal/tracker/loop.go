package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/viewtrack/agent/internal/clock"
)

// Loop runs posted functions one at a time on a single goroutine.
type Loop struct {
	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewLoop(buffer int) *Loop {
	return &Loop{
		events: make(chan func(), buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post queues f. It reports false once the loop is closed.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.events <- f:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(f func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		f()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run executes posted functions until Close or ctx is done. Functions
// already queued when Close is called still run.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case f := <-l.events:
			f()
		case <-l.quit:
			l.drain()
			return
		case <-ctx.Done():
			l.Close()
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case f := <-l.events:
			f()
		default:
			return
		}
	}
}

// Close stops accepting work. It is safe to call more than once.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// loopClock delivers timer callbacks on the loop instead of the timer
// goroutine.
type loopClock struct {
	base clock.Clock
	loop *Loop
}

func (c loopClock) Now() time.Time {
	return c.base.Now()
}

func (c loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.base.AfterFunc(d, func() { c.loop.Post(f) })
}
