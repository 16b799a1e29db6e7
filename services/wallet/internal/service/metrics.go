package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OperationsTotal        *prometheus.CounterVec
	OperationDuration      *prometheus.HistogramVec
	EscrowTransitions      *prometheus.CounterVec
	NotificationsPublished *prometheus.CounterVec
	FeeLookups             *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_operations_total",
				Help: "Total money movement operations by type and outcome.",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_operation_duration_seconds",
				Help:    "Money movement operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		EscrowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_escrow_transitions_total",
				Help: "Exchange escrow state transitions.",
			},
			[]string{"to_status"},
		),
		NotificationsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_notifications_published_total",
				Help: "Notification events published to the broker.",
			},
			[]string{"status"},
		),
		FeeLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_fee_lookups_total",
				Help: "Fee schedule lookups.",
			},
			[]string{"source", "status"},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.EscrowTransitions,
		m.NotificationsPublished,
		m.FeeLookups,
	)
	return m
}

func (m *Metrics) IncEscrowTransition(toStatus string) {
	if m == nil {
		return
	}
	m.EscrowTransitions.WithLabelValues(toStatus).Inc()
}
