// Package metrics exposes Prometheus collectors for research sessions, search
// tasks, the shared permit pool and the result cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/cache"
)

const namespace = "deep_research"

type Metrics struct {
	registry *prometheus.Registry

	cacheRequests  *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	sessions       *prometheus.CounterVec
	tasks          *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by research kind and result (hit or miss).",
		}, []string{"kind", "result"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to stay under the cache capacity.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished research sessions by kind, depth and outcome.",
		}, []string{"kind", "depth", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Settled search tasks by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.cacheRequests,
		m.cacheEvictions,
		m.sessions,
		m.tasks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePermits exports the number of permits in use as reported by inUse.
func (m *Metrics) ObservePermits(inUse func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "permits_in_use",
		Help:      "Outbound search and model calls currently holding a permit.",
	}, func() float64 { return float64(inUse()) }))
}

func (m *Metrics) CacheHit(kind cache.Kind) {
	m.cacheRequests.WithLabelValues(string(kind), "hit").Inc()
}

func (m *Metrics) CacheMiss(kind cache.Kind) {
	m.cacheRequests.WithLabelValues(string(kind), "miss").Inc()
}

func (m *Metrics) CacheEviction() { m.cacheEvictions.Inc() }

// SessionFinished counts a session. outcome is complete, cached, error or
// canceled.
func (m *Metrics) SessionFinished(kind, depth, outcome string) {
	m.sessions.WithLabelValues(kind, depth, outcome).Inc()
}

// TaskSettled counts a search task. outcome is completed or failed.
func (m *Metrics) TaskSettled(outcome string) {
	m.tasks.WithLabelValues(outcome).Inc()
}
