/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics about scheduled fetches.
type MetricsCollector interface {
	// IncRunningFetches increments the number of currently executing fetches.
	IncRunningFetches()

	// DecRunningFetches decrements the number of currently executing fetches.
	DecRunningFetches()

	// IncStartedFetches increments the total number of started fetches.
	IncStartedFetches()

	// IncCoalescedWaiters increments the total number of callers that
	// attached to an already in-flight fetch instead of starting a new one.
	IncCoalescedWaiters()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the scheduler.
type PrometheusMetrics struct {
	FetchesRunning        prometheus.Gauge
	FetchesStartedTotal   prometheus.Counter
	CoalescedWaitersTotal prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		FetchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_fetches_running",
			Help:        "Number of currently executing fetches.",
			ConstLabels: opts.ConstLabels,
		}),
		FetchesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_fetches_started_total",
			Help:        "Total number of started fetches.",
			ConstLabels: opts.ConstLabels,
		}),
		CoalescedWaitersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_coalesced_waiters_total",
			Help:        "Total number of callers that joined an already in-flight fetch.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.FetchesRunning,
		pm.FetchesStartedTotal,
		pm.CoalescedWaitersTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.FetchesRunning)
	prometheus.Unregister(pm.FetchesStartedTotal)
	prometheus.Unregister(pm.CoalescedWaitersTotal)
}

// IncRunningFetches increments the number of currently executing fetches.
func (pm *PrometheusMetrics) IncRunningFetches() {
	pm.FetchesRunning.Inc()
}

// DecRunningFetches decrements the number of currently executing fetches.
func (pm *PrometheusMetrics) DecRunningFetches() {
	pm.FetchesRunning.Dec()
}

// IncStartedFetches increments the total number of started fetches.
func (pm *PrometheusMetrics) IncStartedFetches() {
	pm.FetchesStartedTotal.Inc()
}

// IncCoalescedWaiters increments the total number of coalesced callers.
func (pm *PrometheusMetrics) IncCoalescedWaiters() {
	pm.CoalescedWaitersTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncRunningFetches()   {}
func (disabledMetrics) DecRunningFetches()   {}
func (disabledMetrics) IncStartedFetches()   {}
func (disabledMetrics) IncCoalescedWaiters() {}

var disabledMetricsCollector = disabledMetrics{}
