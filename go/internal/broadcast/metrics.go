package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector defines the interface for collecting clock metrics
type MetricsCollector interface {
	RecordPublish(snapshotType models.SnapshotType, success bool, duration time.Duration)
	RecordTick(result string, duration time.Duration)
	RecordSweep(games int, duration time.Duration)
	RecordDurablePending(count int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordPublish(models.SnapshotType, bool, time.Duration) {}
func (n *NoOpMetricsCollector) RecordTick(string, time.Duration)                       {}
func (n *NoOpMetricsCollector) RecordSweep(int, time.Duration)                         {}
func (n *NoOpMetricsCollector) RecordDurablePending(int)                               {}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, snap models.Snapshot) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, snap)

	p.metrics.RecordPublish(snap.Type, err == nil, time.Since(start))
	return err
}

// PrometheusMetrics records clock metrics on its own Prometheus registry.
type PrometheusMetrics struct {
	registry       *prometheus.Registry
	publishTotal   *prometheus.CounterVec
	publishSeconds *prometheus.HistogramVec
	tickTotal      *prometheus.CounterVec
	tickSeconds    prometheus.Histogram
	sweepTotal     prometheus.Counter
	sweepSeconds   prometheus.Histogram
	runningGames   prometheus.Gauge
	durablePending prometheus.Gauge
}

func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clock_publish_total",
				Help: "Snapshots handed to the broadcaster",
			},
			[]string{"type", "status"},
		),
		publishSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clock_publish_seconds",
				Help:    "Time spent publishing one snapshot",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"type"},
		),
		tickTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clock_tick_total",
				Help: "Heartbeat ticks by result",
			},
			[]string{"result"},
		),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clock_tick_seconds",
			Help:    "Time spent ticking one game",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		sweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clock_sweep_total",
			Help: "Heartbeat sweeps over the running games",
		}),
		sweepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clock_sweep_seconds",
			Help:    "Time spent on one heartbeat sweep",
			Buckets: prometheus.DefBuckets,
		}),
		runningGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clock_running_games",
			Help: "Games with a running clock at the last sweep",
		}),
		durablePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clock_durable_pending",
			Help: "Games waiting for a durable or running-index write",
		}),
	}

	m.registry.MustRegister(
		m.publishTotal, m.publishSeconds,
		m.tickTotal, m.tickSeconds,
		m.sweepTotal, m.sweepSeconds,
		m.runningGames, m.durablePending,
	)
	return m
}

func (m *PrometheusMetrics) RecordPublish(snapshotType models.SnapshotType, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.publishTotal.WithLabelValues(string(snapshotType), status).Inc()
	m.publishSeconds.WithLabelValues(string(snapshotType)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTick(result string, duration time.Duration) {
	m.tickTotal.WithLabelValues(result).Inc()
	m.tickSeconds.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordSweep(games int, duration time.Duration) {
	m.sweepTotal.Inc()
	m.runningGames.Set(float64(games))
	m.sweepSeconds.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordDurablePending(count int) {
	m.durablePending.Set(float64(count))
}

// Registry exposes the collectors, mostly for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
