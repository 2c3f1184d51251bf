// Package metrics exposes Prometheus instrumentation for the coordinator.
// Each coordinator instance owns its own registry so tests and multiple
// integration instances never collide on metric registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordinator's instrument set.
type Metrics struct {
	registry *prometheus.Registry

	RefreshCycles       prometheus.Counter
	RefreshSkipped      prometheus.Counter
	AuthFailures        prometheus.Counter
	GroupFetchFailures  *prometheus.CounterVec
	DetailFetchFailures *prometheus.CounterVec
	ActivitiesAccepted  prometheus.Counter
	ActivitiesDiscarded prometheus.Counter
	SignalsDelivered    prometheus.Counter
	Subscribers         prometheus.Gauge
	LastUpdateTimestamp prometheus.Gauge
}

// New creates a Metrics set backed by a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RefreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "coordinator",
			Name:      "refresh_cycles_total",
			Help:      "Completed refresh cycles, including cycles skipped for auth.",
		}),
		RefreshSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "coordinator",
			Name:      "refresh_skipped_total",
			Help:      "Refresh cycles skipped because a previous cycle was still in flight.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "coordinator",
			Name:      "auth_failures_total",
			Help:      "Session refresh failures that aborted a cycle.",
		}),
		GroupFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "coordinator",
			Name:      "group_fetch_failures_total",
			Help:      "Activity fetch failures by group.",
		}, []string{"group_id"}),
		DetailFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "detail",
			Name:      "fetch_failures_total",
			Help:      "Detail fetch failures by category.",
		}, []string{"category"}),
		ActivitiesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "activity",
			Name:      "accepted_total",
			Help:      "Activity records that replaced an older retained record.",
		}),
		ActivitiesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "activity",
			Name:      "discarded_total",
			Help:      "Stale or duplicate activity records discarded on ingest.",
		}),
		SignalsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicesync",
			Subsystem: "subscriber",
			Name:      "signals_total",
			Help:      "Device-change signals delivered to subscribers.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicesync",
			Subsystem: "subscriber",
			Name:      "registered",
			Help:      "Currently registered subscriber callbacks.",
		}),
		LastUpdateTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicesync",
			Subsystem: "coordinator",
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last completed refresh cycle.",
		}),
	}

	m.registry.MustRegister(collectors.NewBuildInfoCollector())
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		m.RefreshCycles,
		m.RefreshSkipped,
		m.AuthFailures,
		m.GroupFetchFailures,
		m.DetailFetchFailures,
		m.ActivitiesAccepted,
		m.ActivitiesDiscarded,
		m.SignalsDelivered,
		m.Subscribers,
		m.LastUpdateTimestamp,
	)

	return m
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
