package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	snapshots     *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	orders        *prometheus.CounterVec
	marketEvents  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	activeMarkets prometheus.Gauge
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betpull_snapshots_total",
				Help: "Market snapshots accepted, by source",
			},
			[]string{"source"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betpull_errors_total",
				Help: "Errors encountered, by kind",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betpull_orders_total",
				Help: "Order intents submitted or cancelled",
			},
			[]string{"side", "action"},
		),
		marketEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betpull_market_events_total",
				Help: "Market lifecycle events (init, close, cutoff_forced)",
			},
			[]string{"event"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betpull_trade_state_transitions_total",
				Help: "Trade machine transitions, by target state",
			},
			[]string{"state"},
		),
		activeMarkets: f.NewGauge(prometheus.GaugeOpts{
			Name: "betpull_active_markets",
			Help: "Markets currently held in memory",
		}),
	}
}

// RecordSnapshot counts an accepted snapshot.
func (r *Recorder) RecordSnapshot(source string) {
	r.snapshots.WithLabelValues(source).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordOrder(side, action string) {
	r.orders.WithLabelValues(side, action).Inc()
}

func (r *Recorder) RecordMarketEvent(event string) {
	r.marketEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) RecordStateTransition(state string) {
	r.transitions.WithLabelValues(state).Inc()
}

func (r *Recorder) SetActiveMarkets(n int) {
	r.activeMarkets.Set(float64(n))
}
