package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcilerMetrics tracks convergence activity of the reconciler loop.
type ReconcilerMetrics struct {
	Runs         prometheus.Counter
	Errors       prometheus.Counter
	Duration     prometheus.Histogram
	UnitsDesired prometheus.Gauge
}

func newReconcilerMetrics(registry *prometheus.Registry) (*ReconcilerMetrics, error) {
	m := &ReconcilerMetrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restreamer_reconcile_runs_total",
			Help: "Total number of reconciliation passes triggered by a state revision.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restreamer_reconcile_errors_total",
			Help: "Total number of reconciliation passes that failed to apply fully.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "restreamer_reconcile_duration_seconds",
			Help:    "Wall time spent converging the supervisor pool and SRS config per revision.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		UnitsDesired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restreamer_reconcile_units_desired",
			Help: "Number of supervisor specs derived from the last converged revision.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Runs, m.Errors, m.Duration, m.UnitsDesired} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	return m, nil
}
