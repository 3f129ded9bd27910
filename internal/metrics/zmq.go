package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ZMQMetrics tracks tuning commands sent over the filter-graph control channel.
type ZMQMetrics struct {
	CommandsTotal *prometheus.CounterVec
}

func newZMQMetrics(registry *prometheus.Registry) (*ZMQMetrics, error) {
	m := &ZMQMetrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restreamer_zmq_commands_total",
			Help: "Total number of ZMQ tuning commands sent, by command kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	if err := registry.Register(m.CommandsTotal); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return m, nil
}
