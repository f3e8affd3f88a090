// Package metrics collects batch-run metrics for one CLI invocation and
// writes them in the Prometheus text format, for node_exporter's
// textfile collector to pick up.
package metrics

import (
	"strings"
	"time"

	"ghithu-reconciliation-service/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ghithu"

// Outcome labels.
const (
	OutcomeOK = "ok"
)

// Config labels every series of a run.
type Config struct {
	Command     string
	Environment string
}

// Metrics is the registry of one run. It satisfies the gateway, cache
// and report recorder interfaces.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchRows     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	tableRows     *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec

	now func() time.Time
}

// New creates a registry with every collector registered.
func New(cfg Config) *Metrics {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = "unknown"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"command": command, "env": env}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "gateway_fetches_total",
			Help:        "Billing gateway queries by remote function and outcome.",
			ConstLabels: constLabels,
		}, []string{"function", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "gateway_fetch_duration_seconds",
			Help:        "Billing gateway query latency by remote function.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"function"}),
		fetchRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "gateway_rows_total",
			Help:        "Rows returned by the billing gateway by remote function.",
			ConstLabels: constLabels,
		}, []string{"function"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_lookups_total",
			Help:        "Query cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "report_table_rows",
			Help:        "Rows in each rendered report table, totals row included.",
			ConstLabels: constLabels,
		}, []string{"table"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the last run by operation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "runs_total",
			Help:        "Runs by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run by operation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		m.fetches, m.fetchDuration, m.fetchRows, m.cacheLookups,
		m.tableRows, m.runDuration, m.runs, m.lastSuccess,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch records one gateway query.
func (m *Metrics) ObserveFetch(function string, err error, elapsed time.Duration, rows int) {
	m.fetches.WithLabelValues(function, Outcome(err)).Inc()
	m.fetchDuration.WithLabelValues(function).Observe(elapsed.Seconds())
	if err == nil {
		m.fetchRows.WithLabelValues(function).Add(float64(rows))
	}
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveTable records the size of a rendered table.
func (m *Metrics) ObserveTable(name string, rows int) {
	m.tableRows.WithLabelValues(name).Set(float64(rows))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(operation string, elapsed time.Duration, err error) {
	outcome := Outcome(err)
	m.runs.WithLabelValues(operation, outcome).Inc()
	m.runDuration.WithLabelValues(operation).Set(elapsed.Seconds())
	if outcome == OutcomeOK {
		m.lastSuccess.WithLabelValues(operation).Set(float64(m.now().Unix()))
	}
}

// WriteToTextfile writes the registry atomically to path.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, "prometheus", path, err)
	}
	return nil
}

// Outcome maps an error to a low-cardinality label: "ok", or the error
// category.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return string(rerr.Category)
	}
	return string(errors.CategoryInternal)
}
