package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsConsumed *prometheus.CounterVec
	PushDeliveries *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_events_consumed_total",
				Help: "Notification events consumed by outcome.",
			},
			[]string{"outcome"},
		),
		PushDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_push_deliveries_total",
				Help: "Push gateway deliveries by outcome.",
			},
			[]string{"outcome"},
		),
	}
	registry.MustRegister(m.EventsConsumed, m.PushDeliveries)
	return m
}

func (m *Metrics) IncConsumed(outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPush(outcome string) {
	if m == nil {
		return
	}
	m.PushDeliveries.WithLabelValues(outcome).Inc()
}
