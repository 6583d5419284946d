package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReportsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewtrack",
		Name:      "reports_sent_total",
		Help:      "Engagement reports accepted by the collector.",
	}, []string{"platform", "kind"})
	metricReportsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewtrack",
		Name:      "reports_failed_total",
		Help:      "Engagement reports that failed delivery and were dropped.",
	}, []string{"platform", "kind"})
	metricSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "viewtrack",
		Name:      "report_send_seconds",
		Help:      "Collector round-trip time per report.",
		Buckets:   prometheus.DefBuckets,
	})
	metricSessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewtrack",
		Name:      "sessions_opened_total",
		Help:      "Viewing sessions opened.",
	}, []string{"platform"})
	metricSessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewtrack",
		Name:      "sessions_closed_total",
		Help:      "Viewing sessions closed, by reason.",
	}, []string{"platform", "reason"})
)
