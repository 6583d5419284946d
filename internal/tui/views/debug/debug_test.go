package debug

import (
	"strings"
	"testing"
	"time"

	"github.com/viewtrack/agent/internal/tui/client"
)

func heartbeat(id string, secs int) client.ReportResult {
	return client.ReportResult{
		Report: client.EngagementReport{Platform: "youtube", ContentID: id, WatchDuration: secs, IsHeartbeat: true},
		Status: 200,
		At:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAddAtKeepsTimestamp(t *testing.T) {
	m := New()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.AddAt(at, KindLifecycle, "start youtube:abc 0s")
	if !m.Entries[0].Time.Equal(at) {
		t.Errorf("Time = %v, want %v", m.Entries[0].Time, at)
	}

	m.AddAt(time.Time{}, KindFeed, "connected")
	if m.Entries[1].Time.IsZero() {
		t.Error("zero time should be replaced with now")
	}
}

func TestAddReport(t *testing.T) {
	m := New()
	ok := heartbeat("abc", 30)
	ok.Report.ContentTitle = "Song"
	m.AddReport(ok)

	failed := heartbeat("abc", 65)
	failed.Report.IsHeartbeat = false
	failed.Status = 0
	failed.Error = "dial tcp: connection refused"
	m.AddReport(failed)

	if m.Sent != 1 || m.Failed != 1 {
		t.Fatalf("sent/failed = %d/%d, want 1/1", m.Sent, m.Failed)
	}
	first, second := m.Entries[0], m.Entries[1]
	if first.Kind != KindReport || first.Message != `youtube:abc 30s "Song"` {
		t.Errorf("first = %+v", first)
	}
	if first.Delivery == nil || first.Delivery.Final || first.Delivery.Status != 200 {
		t.Errorf("first delivery = %+v", first.Delivery)
	}
	if second.Kind != KindError || !strings.HasSuffix(second.Message, ": dial tcp: connection refused") {
		t.Errorf("second = %+v", second)
	}
	if !second.Delivery.Final {
		t.Error("non-heartbeat report should be marked final")
	}
}

func TestMaxEntries(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.AddReport(heartbeat("abc", i))
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("entries = %d, want %d", len(m.Entries), maxEntries)
	}
	if m.Sent != maxEntries+50 {
		t.Errorf("Sent = %d, totals should outlive the buffer", m.Sent)
	}
}

func TestFilters(t *testing.T) {
	m := New()
	m.Add(KindFeed, "connected")
	m.Add(KindLifecycle, "start youtube:abc 0s")
	m.AddReport(heartbeat("abc", 30))
	failed := heartbeat("abc", 31)
	failed.Error = "collector returned 500"
	m.AddReport(failed)
	m.Add(KindError, "resync: not connected")

	tests := []struct {
		filter Filter
		want   int
	}{
		{FilterAll, 5},
		{FilterReports, 2},
		{FilterSessions, 1},
		{FilterErrors, 2},
	}
	for _, tt := range tests {
		m.Filter = tt.filter
		if got := len(m.Visible()); got != tt.want {
			t.Errorf("filter %s shows %d entries, want %d", tt.filter, got, tt.want)
		}
	}
}

func TestCycleFilterWrapsAndResetsScroll(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(KindFeed, "msg")
	}
	m.ScrollUp(4)
	m.CycleFilter()
	if m.Filter != FilterReports || m.Offset != 0 {
		t.Errorf("after cycle: filter %s offset %d", m.Filter, m.Offset)
	}
	m.CycleFilter()
	m.CycleFilter()
	m.CycleFilter()
	if m.Filter != FilterAll {
		t.Errorf("filter should wrap to all, got %s", m.Filter)
	}
}

func TestScrollIsBoundedByVisibleEntries(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add(KindFeed, "msg")
	}
	m.AddReport(heartbeat("abc", 30))
	m.AddReport(heartbeat("abc", 60))

	m.ScrollUp(5)
	if m.Offset != 5 {
		t.Errorf("offset = %d, want 5", m.Offset)
	}
	m.ScrollDown(10)
	if m.Offset != 0 {
		t.Errorf("offset = %d, want 0", m.Offset)
	}

	m.Filter = FilterReports
	m.ScrollUp(100)
	if m.Offset != 1 {
		t.Errorf("offset = %d, want 1 with two visible entries", m.Offset)
	}
}

func TestAddResetsScroll(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(KindFeed, "msg")
	}
	m.ScrollUp(5)
	m.Add(KindFeed, "new")
	if m.Offset != 0 {
		t.Error("a new entry should scroll back to the newest")
	}
}

func TestViewEmpty(t *testing.T) {
	m := New()
	if v := m.View(80, 20); !strings.Contains(v, "No events recorded yet") {
		t.Errorf("empty view:\n%s", v)
	}
	m.Filter = FilterErrors
	if v := m.View(80, 20); !strings.Contains(v, "No errors yet") {
		t.Errorf("empty filtered view:\n%s", v)
	}
}

func TestViewShowsDeliveries(t *testing.T) {
	m := New()
	m.AddReport(heartbeat("abc", 30))
	final := heartbeat("abc", 65)
	final.Report.IsHeartbeat = false
	final.Status = 500
	final.Error = "collector returned 500"
	m.AddReport(final)

	v := m.View(120, 20)
	for _, want := range []string{"REPORT LOG", "filter: all  1 sent  1 failed", "beat", "final", "200", "500", "youtube:abc 65s"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}
