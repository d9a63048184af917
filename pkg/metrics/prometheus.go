package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	hourlyAverage  *prometheus.GaugeVec
	reconnects     prometheus.Counter
	upstreamState  *prometheus.GaugeVec
	subscribers    prometheus.Gauge
	broadcastTotal *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorelay_ticks_received_total",
				Help: "Total number of price ticks accepted from the upstream feed",
			},
			[]string{"symbol"},
		),
		droppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorelay_items_dropped_total",
				Help: "Total number of upstream frames or items dropped",
			},
			[]string{"reason"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorelay_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptorelay_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		hourlyAverage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptorelay_hourly_average",
				Help: "Trailing one hour average price for a symbol",
			},
			[]string{"symbol"},
		),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "cryptorelay_upstream_reconnects_total",
			Help: "Total number of scheduled upstream reconnects",
		}),
		upstreamState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptorelay_upstream_state",
				Help: "Upstream connection state (1 for the current state)",
			},
			[]string{"state"},
		),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "cryptorelay_subscribers",
			Help: "Currently connected downstream subscribers",
		}),
		broadcastTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorelay_broadcast_messages_total",
				Help: "Total number of messages queued to subscribers",
			},
			[]string{"event"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptorelay_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptorelay_queue_depth",
				Help: "Events waiting in an internal queue",
			},
			[]string{"queue"},
		),
	}
}

// RecordTick records an accepted tick and its price.
func (r *Recorder) RecordTick(symbol string, price float64) {
	r.ticksTotal.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordDropped records a dropped frame or data item.
func (r *Recorder) RecordDropped(reason string) {
	r.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordHourlyAverage records the latest computed average for a symbol.
func (r *Recorder) RecordHourlyAverage(symbol string, avg float64) {
	r.hourlyAverage.WithLabelValues(symbol).Set(avg)
}

// RecordReconnect counts a scheduled reconnect.
func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

// RecordUpstreamState marks state as current and clears the others.
func (r *Recorder) RecordUpstreamState(state string) {
	r.upstreamState.Reset()
	r.upstreamState.WithLabelValues(state).Set(1)
}

// RecordSubscribers sets the subscriber gauge.
func (r *Recorder) RecordSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

// RecordBroadcast counts messages queued for event.
func (r *Recorder) RecordBroadcast(event string, n int) {
	r.broadcastTotal.WithLabelValues(event).Add(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordQueueDepth sets the number of events waiting in queue.
func (r *Recorder) RecordQueueDepth(queue string, n int) {
	r.queueDepth.WithLabelValues(queue).Set(float64(n))
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordTick(string, float64)          {}
func (Nop) RecordDropped(string)                {}
func (Nop) RecordError(string)                  {}
func (Nop) RecordHourlyAverage(string, float64) {}
func (Nop) RecordReconnect()                    {}
func (Nop) RecordUpstreamState(string)          {}
func (Nop) RecordSubscribers(int)               {}
func (Nop) RecordBroadcast(string, int)         {}
func (Nop) RecordLatency(string, float64)       {}
func (Nop) RecordQueueDepth(string, int)        {}
