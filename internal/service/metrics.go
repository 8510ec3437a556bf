package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics holds the settlement collectors. A nil *Metrics records nothing.
type Metrics struct {
	settlements   *prometheus.CounterVec
	appliedTotal  prometheus.Counter
	unusedTotal   prometheus.Counter
	settleSeconds prometheus.Histogram
	batchItems    prometheus.Histogram
	exports       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdv",
			Name:      "settlements_total",
			Help:      "Settle calls by outcome (ok or error kind).",
		}, []string{"outcome"}),
		appliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pdv",
			Name:      "settlement_applied_amount_total",
			Help:      "Sum of amounts applied to obligations.",
		}),
		unusedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pdv",
			Name:      "settlement_unused_amount_total",
			Help:      "Sum of tendered amounts returned unconsumed.",
		}),
		settleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdv",
			Name:      "settlement_duration_seconds",
			Help:      "Latency of a single settle call including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}),
		batchItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdv",
			Name:      "bulk_settlement_items",
			Help:      "Number of items per bulk settlement request.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdv",
			Name:      "exports_total",
			Help:      "Receipt exports by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.settlements, m.appliedTotal, m.unusedTotal, m.settleSeconds, m.batchItems, m.exports)
	}
	return m
}

func (m *Metrics) observeSettle(outcome string, applied, unused decimal.Decimal, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settleSeconds.Observe(elapsed.Seconds())
	if applied.IsPositive() {
		m.appliedTotal.Add(applied.InexactFloat64())
	}
	if unused.IsPositive() {
		m.unusedTotal.Add(unused.InexactFloat64())
	}
}

func (m *Metrics) observeBatch(items int) {
	if m == nil {
		return
	}
	m.batchItems.Observe(float64(items))
}

func (m *Metrics) observeExport(outcome string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(outcome).Inc()
}
