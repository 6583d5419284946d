package report

import (
	"sync"
	"time"
)

// HealthStatus is the sink's delivery health.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Default consecutive-failure thresholds.
const (
	DefaultDegradedAfter = 1
	DefaultFailedAfter   = 5
)

// Health tracks consecutive delivery failures. Fields are protected by mu
// because sends complete on their own goroutines while the feed reads
// snapshots.
type Health struct {
	mu            sync.Mutex
	degradedAfter int
	failedAfter   int
	failures      int
	sent          int
	failed        int
	lastErr       string
	lastFail      time.Time
	lastSuccess   time.Time
}

// HealthSnapshot is a consistent copy of Health.
type HealthSnapshot struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Sent                int          `json:"sent"`
	Failed              int          `json:"failed"`
	LastError           string       `json:"lastError,omitempty"`
	LastFailure         time.Time    `json:"lastFailure,omitempty"`
	LastSuccess         time.Time    `json:"lastSuccess,omitempty"`
}

func NewHealth(degradedAfter, failedAfter int) *Health {
	if degradedAfter <= 0 {
		degradedAfter = DefaultDegradedAfter
	}
	if failedAfter < degradedAfter {
		failedAfter = degradedAfter
	}
	return &Health{degradedAfter: degradedAfter, failedAfter: failedAfter}
}

func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.sent++
	h.lastErr = ""
	h.lastSuccess = time.Now()
}

func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.failed++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

func (h *Health) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *Health) statusLocked() HealthStatus {
	switch {
	case h.failures >= h.failedAfter:
		return StatusFailed
	case h.failures >= h.degradedAfter:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Status:              h.statusLocked(),
		ConsecutiveFailures: h.failures,
		Sent:                h.sent,
		Failed:              h.failed,
		LastError:           h.lastErr,
		LastFailure:         h.lastFail,
		LastSuccess:         h.lastSuccess,
	}
}
