// Package metrics holds the Prometheus collectors exported by the frame server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frames"

var (
	// UploadsTotal counts upload attempts by terminal state.
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload attempts by outcome",
		},
		[]string{"outcome"}, // published, rejected, failed, banned, limited
	)

	// ConversionDuration is a histogram of PNG to DDS conversion time.
	ConversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Duration of texture conversions in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"}, // success, error
	)

	// ConversionsInFlight is the number of conversions currently running.
	ConversionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversions_in_flight",
			Help:      "Number of conversions currently running",
		},
	)

	// IdentityLookupsTotal counts Steam profile lookups.
	IdentityLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_lookups_total",
			Help:      "Total number of Steam profile lookups",
		},
		[]string{"status"}, // success, error
	)

	// DeletesTotal counts delete requests by result.
	DeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Total number of frame delete requests by result",
		},
		[]string{"result"}, // deleted, not_found, forbidden, error
	)

	// LiveClients is the number of connected live feed clients.
	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Number of connected live feed websocket clients",
		},
	)
)

var all = []prometheus.Collector{
	UploadsTotal,
	ConversionDuration,
	ConversionsInFlight,
	IdentityLookupsTotal,
	DeletesTotal,
	LiveClients,
}

// NewRegistry returns a registry holding the frame collectors plus Go
// runtime and process metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range all {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
