package visibility

import (
	"time"

	"github.com/viewtrack/agent/internal/clock"
)

// ChangeWatcher reports changes of a probed environment value, such as the
// page URL during single-page-app navigation.
type ChangeWatcher interface {
	// Watch starts watching probe and calls onChange with the previous and
	// the new value whenever it differs. The returned func stops watching.
	Watch(probe func() string, onChange func(prev, next string)) (stop func())
}

// PollingWatcher implements ChangeWatcher by sampling on a fixed interval.
type PollingWatcher struct {
	Clock    clock.Clock
	Interval time.Duration
}

func (w PollingWatcher) Watch(probe func() string, onChange func(prev, next string)) func() {
	last := probe()
	t := clock.Every(w.Clock, w.Interval, func() {
		cur := probe()
		if cur == last {
			return
		}
		prev := last
		last = cur
		onChange(prev, cur)
	})
	return func() { t.Stop() }
}
