package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "go_control_controller_solves_total",
		Help: "Total number of controller solves by variant and status",
	}, []string{"variant", "status"})

	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "go_control_controller_solve_duration_seconds",
		Help:    "Duration of controller solves",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
	}, []string{"variant"})

	overridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "go_control_controller_overrides_total",
		Help: "Total number of proposed inputs replaced by safety filters",
	}, []string{"variant"})

	recoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "go_control_controller_recoveries_total",
		Help: "Total number of stochastic MPC solves initialised from the previous nominal prediction",
	})
)
