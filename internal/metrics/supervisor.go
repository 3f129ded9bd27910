package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SupervisorMetrics tracks FFmpeg unit lifecycle transitions.
type SupervisorMetrics struct {
	UnitsByPhase  *prometheus.GaugeVec
	Spawns        prometheus.Counter
	Crashes       prometheus.Counter
	CooldownTotal *prometheus.CounterVec
}

func newSupervisorMetrics(registry *prometheus.Registry) (*SupervisorMetrics, error) {
	m := &SupervisorMetrics{
		UnitsByPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "restreamer_units_by_phase",
			Help: "Current count of supervised FFmpeg units in each lifecycle phase.",
		}, []string{"phase"}),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restreamer_unit_spawns_total",
			Help: "Total number of FFmpeg process spawn attempts across all units.",
		}),
		Crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restreamer_unit_crashes_total",
			Help: "Total number of FFmpeg processes that exited with a non-zero status.",
		}),
		CooldownTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restreamer_unit_cooldowns_total",
			Help: "Total number of times a unit entered its backoff cooldown, by kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.UnitsByPhase, m.Spawns, m.Crashes, m.CooldownTotal} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	return m, nil
}
