package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ami_kafka"

// Result labels for the events counter.
const (
	ResultSent     = "sent"
	ResultFiltered = "filtered"
	ResultDisabled = "disabled"
	ResultUnrouted = "unrouted"
)

// Metrics groups the publisher's Prometheus collectors.
type Metrics struct {
	Events         *prometheus.CounterVec
	ProduceErrors  prometheus.Counter
	CompileErrors  prometheus.Counter
	Reloads        *prometheus.CounterVec
	Filters        *prometheus.GaugeVec
	eventsSent     prometheus.Counter
	eventsFiltered prometheus.Counter
	eventsDisabled prometheus.Counter
	eventsUnrouted prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Manager events seen by the publisher, by outcome.",
		}, []string{"result"}),
		ProduceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produce_errors_total",
			Help:      "Records the broker client failed to accept or deliver.",
		}),
		CompileErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_compile_errors_total",
			Help:      "Event filter declarations rejected at load time.",
		}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Configuration reloads, by result.",
		}, []string{"result"}),
		Filters: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filters",
			Help:      "Active event filters, by set.",
		}, []string{"set"}),
	}
	m.eventsSent = m.Events.WithLabelValues(ResultSent)
	m.eventsFiltered = m.Events.WithLabelValues(ResultFiltered)
	m.eventsDisabled = m.Events.WithLabelValues(ResultDisabled)
	m.eventsUnrouted = m.Events.WithLabelValues(ResultUnrouted)
	return m
}
