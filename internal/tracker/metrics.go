package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricConfirmedSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "viewtrack",
	Name:      "confirmed_signals_total",
	Help:      "Debounced viewing confirmations delivered to session machines.",
}, []string{"platform"})
