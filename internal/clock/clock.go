// Package clock abstracts wall time and timer scheduling so tracking logic
// can run against real time in the agent and against simulated time in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source and one-shot timer scheduler used by the tracker.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once after d. The returned Timer cancels it.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Real is the Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// repeating re-arms a one-shot timer after every firing.
type repeating struct {
	c  Clock
	d  time.Duration
	f  func()
	mu sync.Mutex
	t  Timer

	stopped bool
}

// Every calls f every d until the returned Timer is stopped. The first call
// happens d after Every returns.
func Every(c Clock, d time.Duration, f func()) Timer {
	r := &repeating{c: c, d: d, f: f}
	r.mu.Lock()
	r.t = c.AfterFunc(d, r.fire)
	r.mu.Unlock()
	return r
}

func (r *repeating) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.t = r.c.AfterFunc(r.d, r.fire)
	r.mu.Unlock()
	r.f()
}

func (r *repeating) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.t != nil {
		r.t.Stop()
	}
	return true
}
