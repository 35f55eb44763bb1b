// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to wsotp so tests and multiple servers never collide
// with the global default registry.
var Registry = prometheus.NewRegistry()

var (
	LeasesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsotp_leases_in_use",
		Help: "Account leases currently held by tracked numbers.",
	})

	TasksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsotp_tasks_active",
		Help: "Numbers currently being polled.",
	})

	TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsotp_tasks_finished_total",
		Help: "Tracked numbers that reached a final state, by state.",
	}, []string{"state"})

	CleanupDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsotp_cleanup_deletes_total",
		Help: "Records deleted from accounts during cleanup.",
	})

	RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsotp_remote_requests_total",
		Help: "Registration API requests by operation and outcome.",
	}, []string{"op", "outcome"})

	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsotp_remote_request_seconds",
		Help:    "Registration API request latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LeasesInUse,
		TasksActive,
		TasksFinished,
		CleanupDeletes,
		RemoteRequests,
		RemoteLatency,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
