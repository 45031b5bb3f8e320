// Package metrics exposes pipeline counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auction"

// Recorder records decision cycle and safety metrics.
type Recorder struct {
	cycles             *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec
	safetyRejections   *prometheus.CounterVec
	ordersCreated      *prometheus.CounterVec
	orderConfirmations *prometheus.CounterVec
	fenceActive        prometheus.Gauge
	lastPrice          *prometheus.GaugeVec
	errorsTotal        *prometheus.CounterVec
}

// New registers the recorder's collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Decision cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of decision cycles in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		safetyRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_rejections_total",
				Help:      "Safety violations that blocked a trade",
			},
			[]string{"reason"},
		),
		ordersCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_created_total",
				Help:      "Pending orders created by setup type",
			},
			[]string{"setup"},
		),
		orderConfirmations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_confirmations_total",
				Help:      "Broker confirmations by status",
			},
			[]string{"status"},
		),
		fenceActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trading_fence_active",
				Help:      "1 while the trading fence blocks admission",
			},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last traded price",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Hard failures by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordCycle records one decision cycle and its latency.
func (r *Recorder) RecordCycle(outcome string, seconds float64) {
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSafetyRejection counts one blocking violation.
func (r *Recorder) RecordSafetyRejection(reason string) {
	r.safetyRejections.WithLabelValues(reason).Inc()
}

// RecordOrderCreated counts a pending order.
func (r *Recorder) RecordOrderCreated(setup string) {
	r.ordersCreated.WithLabelValues(setup).Inc()
}

// RecordOrderConfirmation counts a broker confirmation.
func (r *Recorder) RecordOrderConfirmation(status string) {
	r.orderConfirmations.WithLabelValues(status).Inc()
}

// SetFenceActive mirrors the fence latch.
func (r *Recorder) SetFenceActive(active bool) {
	if active {
		r.fenceActive.Set(1)
		return
	}
	r.fenceActive.Set(0)
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCycle(string, float64) {}
func (Nop) RecordSafetyRejection(string) {}
func (Nop) RecordOrderCreated(string) {}
func (Nop) RecordOrderConfirmation(string) {}
func (Nop) SetFenceActive(bool) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordError(string) {}
