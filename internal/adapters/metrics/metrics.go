// Package metrics records request, query and roster sync measurements in a
// prometheus registry. A nil *Metrics is valid and records nothing, so stores
// and handlers can be built without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rollcall"

// Sync outcome labels.
const (
	OutcomeAdded   = "added"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeWarning = "warning"
)

// Metrics owns the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	queryDuration   *prometheus.HistogramVec
	syncRuns        *prometheus.CounterVec
	syncRecords     *prometheus.CounterVec
}

// New registers the rollcall collectors on reg. A nil reg gets a fresh registry
// with the Go and process collectors attached.
// PRE: reg has no rollcall collectors registered yet
// POST: Returns Metrics whose Handler serves reg
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database call latency by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_sync_runs_total",
			Help:      "Roster sync runs by mode and result.",
		}, []string{"mode", "result"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_sync_records_total",
			Help:      "Roster records handled by sync runs, by outcome.",
		}, []string{"mode", "outcome"}),
	}
	reg.MustRegister(m.requestDuration, m.queryDuration, m.syncRuns, m.syncRecords)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one HTTP request. route should be the mux pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveQuery records one database call.
func (m *Metrics) ObserveQuery(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SyncRun counts a finished preview or apply run.
func (m *Metrics) SyncRun(mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(mode, result).Inc()
}

// SyncRecords adds n records with the given outcome.
func (m *Metrics) SyncRecords(mode, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncRecords.WithLabelValues(mode, outcome).Add(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
