// Package metrics exposes Prometheus collectors for transformation runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfaulken/rules/rules"
)

// Run outcomes used as the "status" label.
const (
	StatusSuccess    = "success"
	StatusRuleErrors = "rule_errors"
	StatusAborted    = "aborted"
)

// Collector records run metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	linesTotal  *prometheus.CounterVec
	ruleErrors  prometheus.Counter
	runDuration prometheus.Histogram
	lastRunTime prometheus.Gauge
	activeRules prometheus.Gauge
	unprocessed prometheus.Gauge
}

// NewCollector creates a collector. If registry is nil a fresh one is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rules",
			Name:      "runs_total",
			Help:      "Transformation runs by outcome.",
		}, []string{"status"}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rules",
			Name:      "source_lines_total",
			Help:      "Source lines visited by runs, by outcome.",
		}, []string{"outcome"}),
		ruleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rules",
			Name:      "rule_errors_total",
			Help:      "Lines on which at least one rule failed to apply.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rules",
			Name:      "run_duration_seconds",
			Help:      "Duration of transformation runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rules",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rules",
			Name:      "active_rules",
			Help:      "Active rules at the last observation.",
		}),
		unprocessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rules",
			Name:      "unprocessed_source_lines",
			Help:      "Unprocessed source lines at the last observation.",
		}),
	}

	registry.MustRegister(
		c.runsTotal,
		c.linesTotal,
		c.ruleErrors,
		c.runDuration,
		c.lastRunTime,
		c.activeRules,
		c.unprocessed,
	)

	return c
}

// ObserveRun records a finished run. aborted marks a run stopped by a
// store failure or cancellation.
func (c *Collector) ObserveRun(report *rules.RunReport, aborted bool) {
	status := StatusSuccess
	switch {
	case aborted:
		status = StatusAborted
	case len(report.Errors) > 0:
		status = StatusRuleErrors
	}
	c.runsTotal.WithLabelValues(status).Inc()

	c.linesTotal.WithLabelValues("transformed").Add(float64(report.Transformed))
	c.linesTotal.WithLabelValues("unmatched").Add(float64(report.Unmatched))
	c.linesTotal.WithLabelValues("filtered").Add(float64(report.Filtered))
	c.linesTotal.WithLabelValues("failed").Add(float64(report.Failed))
	c.ruleErrors.Add(float64(len(report.Errors)))

	c.runDuration.Observe(report.Duration().Seconds())
	c.lastRunTime.Set(float64(report.FinishedAt.Unix()))
}

// SetBacklog records the current number of active rules and unprocessed lines.
func (c *Collector) SetBacklog(activeRules, unprocessed int) {
	c.activeRules.Set(float64(activeRules))
	c.unprocessed.Set(float64(unprocessed))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
