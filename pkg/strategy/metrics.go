package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StrategyResults tracks outcomes per policy
	StrategyResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_strategy_results_total",
			Help: "Strategy outcomes by policy and source",
		},
		[]string{"policy", "source"},
	)

	// RevalidationFailures tracks swallowed background refresh failures
	RevalidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_revalidation_failures_total",
			Help: "Background stale-while-revalidate refreshes that failed",
		},
	)
)
