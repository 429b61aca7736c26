// Package metrics holds the Prometheus collectors for telemetry delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_events_fired_total",
		Help: "Total number of Fire calls, labelled by outcome (disabled, failed, published).",
	}, []string{"status"})

	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_publish_duration_seconds",
		Help:    "Time spent handing a payload to its transport, labelled by driver.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"driver"})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_notifications_total",
		Help: "Total number of failures reported through the notification policy.",
	})
)
