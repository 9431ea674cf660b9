package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"randhub/core/events"
	"randhub/native/vrfhub"
)

type hubMetrics struct {
	events         *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	pending        *prometheus.CounterVec
	balance        prometheus.Gauge
	queueDepth     prometheus.Gauge
	aggregatePrice prometheus.Gauge
	priceSources   prometheus.Gauge
}

var (
	hubMetricsOnce sync.Once
	hubRegistry    *hubMetrics
)

// Hub returns the metrics registry tracking hub events. It satisfies
// events.Emitter so it can be chained behind the engine's emitter.
func Hub() *hubMetrics {
	hubMetricsOnce.Do(func() {
		hubRegistry = &hubMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "events_total",
				Help:      "Count of hub events segmented by type.",
			}, []string{"type"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "rejections_total",
				Help:      "Requests rejected at admission segmented by source.",
			}, []string{"source"}),
			pending: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "responses_queued_total",
				Help:      "Responses moved to the pending queue segmented by reason.",
			}, []string{"reason"}),
			balance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "balance",
				Help:      "Spendable balance available for messaging fees.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "pending_responses",
				Help:      "Number of fulfilled responses waiting for a retry.",
			}),
			aggregatePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "aggregate_price",
				Help:      "Average of the fresh price reports.",
			}),
			priceSources: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "randhub",
				Subsystem: "hub",
				Name:      "aggregate_price_sources",
				Help:      "Number of fresh price reports contributing to the aggregate.",
			}),
		}
		prometheus.MustRegister(
			hubRegistry.events,
			hubRegistry.rejections,
			hubRegistry.pending,
			hubRegistry.balance,
			hubRegistry.queueDepth,
			hubRegistry.aggregatePrice,
			hubRegistry.priceSources,
		)
	})
	return hubRegistry
}

// Emit implements events.Emitter.
func (m *hubMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	m.events.WithLabelValues(payload.Type).Inc()
	switch payload.Type {
	case vrfhub.EventTypeRejected:
		m.rejections.WithLabelValues(labelOr(payload.Attr("source"), "unknown")).Inc()
	case vrfhub.EventTypeResponsePending:
		m.pending.WithLabelValues(labelOr(payload.Attr("reason"), "unknown")).Inc()
	}
}

// RecordSolvency updates the balance and queue depth gauges.
func (m *hubMetrics) RecordSolvency(balance *big.Int, pending int) {
	if m == nil {
		return
	}
	m.balance.Set(toFloat(balance))
	m.queueDepth.Set(float64(pending))
}

// RecordAggregate updates the aggregate price gauges.
func (m *hubMetrics) RecordAggregate(price *big.Int, count int) {
	if m == nil {
		return
	}
	m.aggregatePrice.Set(toFloat(price))
	m.priceSources.Set(float64(count))
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func labelOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
