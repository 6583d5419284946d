package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single collector request.
const DefaultTimeout = 10 * time.Second

const maxResponseBody = 64 << 10

// Result is the outcome of one delivery attempt.
type Result struct {
	Report   EngagementReport `json:"report"`
	Status   int              `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"-"`
	At       time.Time        `json:"at"`
}

func (r Result) OK() bool {
	return r.Error == ""
}

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	Endpoint   string
	Credential string
	Timeout    time.Duration
}

// HTTPSink posts each report to the collector exactly once, on its own
// goroutine. Failures are logged, counted and dropped.
type HTTPSink struct {
	endpoint   string
	credential string
	timeout    time.Duration
	client     *http.Client
	health     *Health

	mu        sync.RWMutex
	listeners []func(Result)

	wg sync.WaitGroup
}

func NewHTTPSink(cfg HTTPSinkConfig, health *Health) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if health == nil {
		health = NewHealth(DefaultDegradedAfter, DefaultFailedAfter)
	}
	return &HTTPSink{
		endpoint:   cfg.Endpoint,
		credential: cfg.Credential,
		timeout:    cfg.Timeout,
		client:     &http.Client{},
		health:     health,
	}
}

// Health returns the sink's delivery health tracker.
func (s *HTTPSink) Health() *Health {
	return s.health
}

// OnResult registers f to be called after every delivery attempt. f runs on
// the sending goroutine.
func (s *HTTPSink) OnResult(f func(Result)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, f)
	s.mu.Unlock()
}

// Send starts delivery of r and returns immediately.
func (s *HTTPSink) Send(r EngagementReport, isHeartbeat bool) {
	r.IsHeartbeat = isHeartbeat
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(r)
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (s *HTTPSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HTTPSink) deliver(r EngagementReport) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	status, err := s.post(ctx, r)
	elapsed := time.Since(start)
	metricSendDuration.Observe(elapsed.Seconds())

	res := Result{Report: r, Status: status, Duration: elapsed, At: time.Now()}
	platform := r.Platform.String()
	if err != nil {
		log.Printf("[sink] %s report for %s dropped: %v", r.Kind(), r.Ref(), err)
		metricReportsFailed.WithLabelValues(platform, r.Kind()).Inc()
		s.health.RecordFailure(err)
		res.Error = err.Error()
	} else {
		metricReportsSent.WithLabelValues(platform, r.Kind()).Inc()
		s.health.RecordSuccess()
	}

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, f := range listeners {
		f(res)
	}
}

func (s *HTTPSink) post(ctx context.Context, r EngagementReport) (int, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.setAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("post %s: %d %s", s.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := checkCollectorBody(body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

func (s *HTTPSink) setAuth(req *http.Request) {
	if s.credential != "" {
		req.Header.Set("Authorization", "Bearer "+s.credential)
	}
}

// checkCollectorBody detects the collector's in-band error envelope, which
// arrives with a 200 status.
func checkCollectorBody(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var env struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.Status == "error" {
		if env.Message == "" {
			return ErrCollector
		}
		return fmt.Errorf("%w: %s", ErrCollector, env.Message)
	}
	return nil
}
