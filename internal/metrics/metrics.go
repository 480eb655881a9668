// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics defines the Prometheus collectors dnswall exposes
// on /metrics: cache effectiveness, controller call outcomes, and
// query volume by result.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector registered by the engine.
type Metrics struct {
	QueriesTotal      *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	BlockedQueries    prometheus.Counter
	ControllerCalls   *prometheus.CounterVec
	ControllerLatency *prometheus.HistogramVec
	TrieRules         prometheus.Gauge
}

// NewMetrics constructs every collector and registers them against
// reg. Use prometheus.DefaultRegisterer in production, a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnswall_queries_total",
			Help: "Total DNS queries served, labeled by result.",
		}, []string{"result"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnswall_cache_hits_total",
			Help: "Total response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnswall_cache_misses_total",
			Help: "Total response cache misses.",
		}),
		BlockedQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnswall_blocked_queries_total",
			Help: "Total queries answered with the block short-circuit.",
		}),
		ControllerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnswall_controller_calls_total",
			Help: "SDN controller calls, labeled by operation and outcome.",
		}, []string{"op", "outcome"}),
		ControllerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnswall_controller_call_latency_seconds",
			Help:    "SDN controller call latency, labeled by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		TrieRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnswall_trie_rules",
			Help: "Number of rules currently held in the policy trie.",
		}),
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.CacheHits,
		m.CacheMisses,
		m.BlockedQueries,
		m.ControllerCalls,
		m.ControllerLatency,
		m.TrieRules,
	)
	return m
}
