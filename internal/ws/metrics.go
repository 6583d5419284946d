package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActivePages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "viewtrack",
		Name:      "pages_active",
		Help:      "Page lifetimes currently connected over the bridge.",
	})
	metricFeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "viewtrack",
		Name:      "feed_clients",
		Help:      "Observers connected to the live feed.",
	})
	metricBridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewtrack",
		Name:      "bridge_messages_total",
		Help:      "Messages received from pages, by type.",
	}, []string{"type"})
)
