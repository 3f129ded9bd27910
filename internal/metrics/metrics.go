// Package metrics collects Prometheus metrics for the reconciler, the
// FFmpeg process supervisor and the ZeroMQ control channel, and exposes
// them on a single registry at /metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector wired into this process.
type Metrics struct {
	registry   *prometheus.Registry
	Reconciler *ReconcilerMetrics
	Supervisor *SupervisorMetrics
	ZMQ        *ZMQMetrics
}

// New creates a fresh registry and registers every domain collector.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	reconciler, err := newReconcilerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("reconciler metrics: %w", err)
	}
	supervisor, err := newSupervisorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("supervisor metrics: %w", err)
	}
	zmq, err := newZMQMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("zmq metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Reconciler: reconciler,
		Supervisor: supervisor,
		ZMQ:        zmq,
	}, nil
}

// Handler returns the promhttp handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
