package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CASConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cas_conflicts_total",
			Help: "Conditional writes that lost a version race",
		},
		[]string{"op"},
	)
	CASRetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cas_retry_exhausted_total",
			Help: "Operations that gave up after the retry budget",
		},
		[]string{"op"},
	)
	ValidationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Client profile writes rejected by the transition validator",
		},
		[]string{"reason"},
	)
	SagaOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outcomes_total",
			Help: "Finished sagas by kind and terminal status",
		},
		[]string{"kind", "status", "source"},
	)
	WorldBossRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worldboss_rotations_total",
			Help: "World boss cycles advanced",
		},
	)
	PaymentsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "premium_payments_applied_total",
			Help: "Verified payments credited as premium time",
		},
	)
)

func init() {
	prometheus.MustRegister(CASConflicts)
	prometheus.MustRegister(CASRetryExhausted)
	prometheus.MustRegister(ValidationRejections)
	prometheus.MustRegister(SagaOutcomes)
	prometheus.MustRegister(WorldBossRotations)
	prometheus.MustRegister(PaymentsApplied)
}
