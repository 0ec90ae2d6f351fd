// Package metrics provides the Prometheus collectors for the edge node and the hub.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"toll-monitor/internal/domain/detection"
)

// EdgeMetrics contains the pipeline metrics of one edge node. All methods are
// safe to call on a nil receiver.
type EdgeMetrics struct {
	TicksRun         prometheus.Counter
	TicksSkipped     prometheus.Counter
	TickDuration     prometheus.Histogram
	StageLatency     *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	EventsAssembled  prometheus.Counter
	EventsDelivered  *prometheus.CounterVec
	EventsBuffered   prometheus.Counter
	BufferEvictions  prometheus.Counter
	EventsDropped    prometheus.Counter
	BufferDepth      prometheus.Gauge
	DeliveryAttempts prometheus.Counter
}

// NewEdgeMetrics creates the edge metrics and registers them on registry.
func NewEdgeMetrics(registry prometheus.Registerer) (*EdgeMetrics, error) {
	m := &EdgeMetrics{
		TicksRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_ticks_total",
			Help: "Total number of detection ticks executed",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still in flight",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anvl_edge_tick_duration_seconds",
			Help:    "Duration of a detection tick from capture to hand-off",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anvl_edge_stage_latency_seconds",
			Help:    "Latency of inference stage calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anvl_edge_stage_failures_total",
			Help: "Inference stage failures by stage and kind",
		}, []string{"stage", "kind"}),
		EventsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_events_assembled_total",
			Help: "Detection events built by the assembler",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anvl_edge_events_delivered_total",
			Help: "Detection events accepted by the hub, by delivery path",
		}, []string{"path"}),
		EventsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_events_buffered_total",
			Help: "Detection events placed in the delivery buffer",
		}),
		BufferEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_buffer_evictions_total",
			Help: "Buffered events evicted because the buffer was full",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_events_dropped_total",
			Help: "Buffered events dropped after reaching the retry ceiling",
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anvl_edge_buffer_depth",
			Help: "Number of events currently held in the delivery buffer",
		}),
		DeliveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_edge_delivery_attempts_total",
			Help: "Hub delivery attempts, direct and drained",
		}),
	}
	if registry != nil {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register edge metrics: %w", err)
		}
	}
	return m, nil
}

func (m *EdgeMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TicksRun, m.TicksSkipped, m.TickDuration, m.StageLatency, m.StageFailures,
		m.EventsAssembled, m.EventsDelivered, m.EventsBuffered, m.BufferEvictions,
		m.EventsDropped, m.BufferDepth, m.DeliveryAttempts,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *EdgeMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *EdgeMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *EdgeMetrics) TickStarted() {
	if m == nil {
		return
	}
	m.TicksRun.Inc()
}

func (m *EdgeMetrics) TickSkipped() {
	if m == nil {
		return
	}
	m.TicksSkipped.Inc()
}

func (m *EdgeMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

// RecordStage records the latency of one stage call and, on failure, its kind.
func (m *EdgeMetrics) RecordStage(stage detection.Stage, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(string(stage)).Observe(d.Seconds())
	if err != nil {
		kind := "unknown"
		if k := detection.Kind(err); k != nil {
			kind = k.Error()
		}
		m.StageFailures.WithLabelValues(string(stage), kind).Inc()
	}
}

func (m *EdgeMetrics) EventAssembled() {
	if m == nil {
		return
	}
	m.EventsAssembled.Inc()
}

func (m *EdgeMetrics) DeliveryAttempted() {
	if m == nil {
		return
	}
	m.DeliveryAttempts.Inc()
}

// Delivered counts an accepted event; path is "direct" or "drained".
func (m *EdgeMetrics) Delivered(path string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(path).Inc()
}

func (m *EdgeMetrics) Buffered() {
	if m == nil {
		return
	}
	m.EventsBuffered.Inc()
}

func (m *EdgeMetrics) Dropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *EdgeMetrics) BufferEvicted() {
	if m == nil {
		return
	}
	m.BufferEvictions.Inc()
}

func (m *EdgeMetrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}
