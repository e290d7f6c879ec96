package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "spawns_total",
			Help:      "Number of successful X server spawns.",
		}, []string{"display"},
	)
	serverSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts by failure kind.",
		}, []string{"reason"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "restarts_total",
			Help:      "Number of recycle cycles triggered by crashes or WM errors.",
		}, []string{"display"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "stops_total",
			Help:      "Number of explicit stops.",
		}, []string{"display"},
	)
	handshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "handshake_duration_seconds",
			Help:      "Time from fork to readiness beacon.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	serverRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xwaybridge",
			Subsystem: "xserver",
			Name:      "running",
			Help:      "Whether an X server child is currently running (0/1).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverSpawns, serverSpawnFailures, serverRestarts, serverStops,
		handshakeDuration, serverRunning,
	}
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

// Handler returns an http.Handler serving the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncSpawn(display string) {
	serverSpawns.WithLabelValues(display).Inc()
	serverRunning.Set(1)
}

func IncSpawnFailure(reason string) {
	serverSpawnFailures.WithLabelValues(reason).Inc()
}

func IncRestart(display string) {
	serverRestarts.WithLabelValues(display).Inc()
	serverRunning.Set(0)
}

func IncStop(display string) {
	serverStops.WithLabelValues(display).Inc()
	serverRunning.Set(0)
}

func ObserveHandshake(seconds float64) {
	handshakeDuration.Observe(seconds)
}
