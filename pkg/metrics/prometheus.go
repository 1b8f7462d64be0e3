package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tickDuration prometheus.Histogram
	ticksTotal   prometheus.Counter
	errorsTotal  *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
	ingestTotal  *prometheus.CounterVec
	score        *prometheus.GaugeVec
	allocation   *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "swingpulse_tick_duration_seconds",
			Help:    "Duration of one engine tick",
			Buckets: prometheus.DefBuckets,
		}),
		ticksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "swingpulse_ticks_total",
			Help: "Total number of completed engine ticks",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpulse_errors_total",
				Help: "Errors by taxonomy kind and pipeline stage",
			},
			[]string{"kind", "stage"},
		),
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpulse_events_total",
				Help: "Events delivered to subscribers",
			},
			[]string{"type", "result"},
		),
		ingestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpulse_ingest_total",
				Help: "Market data snapshots ingested",
			},
			[]string{"source", "instrument"},
		),
		score: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpulse_composite_score",
				Help: "Latest composite score per instrument",
			},
			[]string{"instrument"},
		),
		allocation: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpulse_allocated_capital",
				Help: "Latest capital allocated per instrument",
			},
			[]string{"instrument"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swingpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// ObserveTick records a completed tick.
func (r *Recorder) ObserveTick(d time.Duration) {
	r.ticksTotal.Inc()
	r.tickDuration.Observe(d.Seconds())
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind, stage string) {
	r.errorsTotal.WithLabelValues(kind, stage).Inc()
}

// RecordEvent records one delivery attempt.
func (r *Recorder) RecordEvent(eventType string, delivered bool) {
	result := "ok"
	if !delivered {
		result = "error"
	}
	r.eventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordIngest records an accepted market data snapshot.
func (r *Recorder) RecordIngest(source, instrument string) {
	r.ingestTotal.WithLabelValues(source, instrument).Inc()
}

// SetScore records the latest composite score.
func (r *Recorder) SetScore(instrument string, score float64) {
	r.score.WithLabelValues(instrument).Set(score)
}

// SetAllocation records the latest allocated capital.
func (r *Recorder) SetAllocation(instrument string, capital float64) {
	r.allocation.WithLabelValues(instrument).Set(capital)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) ObserveTick(time.Duration)     {}
func (Noop) RecordError(string, string)    {}
func (Noop) RecordEvent(string, bool)      {}
func (Noop) RecordIngest(string, string)   {}
func (Noop) SetScore(string, float64)      {}
func (Noop) SetAllocation(string, float64) {}
func (Noop) RecordLatency(string, float64) {}
