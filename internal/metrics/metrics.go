package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comfytray"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service launches.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of requested stops (graceful or kill).",
		}, []string{"name"},
	)
	serviceKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "kills_total",
			Help:      "Number of stops that had to escalate to a forced kill.",
		}, []string{"name"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "probes_total",
			Help:      "Readiness probes by result.",
		}, []string{"name", "result"},
	)
	readyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "ready_duration_seconds",
			Help:      "Time from launch until the service port accepted connections.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"name"},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "status_transitions_total",
			Help:      "Number of supervisor status transitions.",
		}, []string{"name", "from", "to"},
	)
	currentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "status",
			Help:      "Current supervisor status (1 = active, 0 = inactive).",
		}, []string{"name", "status"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceKills, probes, readyDuration, statusTransitions, currentStatus}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer; used with private registries.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		serviceKills.WithLabelValues(name).Inc()
	}
}

func IncProbe(name string, ok bool) {
	if regOK.Load() {
		result := "refused"
		if ok {
			result = "ok"
		}
		probes.WithLabelValues(name, result).Inc()
	}
}

func ObserveReady(name string, seconds float64) {
	if regOK.Load() {
		readyDuration.WithLabelValues(name).Observe(seconds)
	}
}

// RecordStatus counts the transition and flips the per-status gauge.
func RecordStatus(name, from, to string) {
	if !regOK.Load() {
		return
	}
	if from != "" {
		statusTransitions.WithLabelValues(name, from, to).Inc()
		currentStatus.WithLabelValues(name, from).Set(0)
	}
	currentStatus.WithLabelValues(name, to).Set(1)
}
