// Package metrics exposes the process's Prometheus instruments. All
// collectors are registered on the default registry and served by the web
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RebalanceCycles counts completed rebalance cycles by kind.
	RebalanceCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simm_rebalance_cycles_total",
		Help: "Completed rebalance cycles by kind.",
	}, []string{"kind"})

	// RebalanceCycleDuration observes how long each cycle took.
	RebalanceCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simm_rebalance_cycle_duration_seconds",
		Help:    "Duration of rebalance cycles.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// RebalanceFailures counts cycles that aborted with an error.
	RebalanceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simm_rebalance_failures_total",
		Help: "Rebalance cycles that aborted with an error.",
	}, []string{"kind"})

	// PoolConstituents tracks how many tokens are currently bound.
	PoolConstituents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simm_pool_constituents",
		Help: "Number of tokens currently bound to the pool.",
	})

	// PriceUpdates counts oracle observation writes by outcome.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simm_price_updates_total",
		Help: "Oracle price update attempts by outcome.",
	}, []string{"outcome"})
)
