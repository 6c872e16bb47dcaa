package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassifierDecisions tracks classification outcomes by policy and role
	ClassifierDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_classifier_decisions_total",
			Help: "Total classifier decisions by policy and namespace role",
		},
		[]string{"policy", "role"},
	)
)
