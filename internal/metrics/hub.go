package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics contains the ingestion metrics of the central hub.
type HubMetrics struct {
	Ingested        prometheus.Counter
	Duplicates      prometheus.Counter
	Rejected        prometheus.Counter
	PublishFailures *prometheus.CounterVec
}

func NewHubMetrics(registry prometheus.Registerer) (*HubMetrics, error) {
	m := &HubMetrics{
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_hub_detections_ingested_total",
			Help: "Detections stored for the first time",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_hub_detections_duplicate_total",
			Help: "Detections received again with an already stored detection_id",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anvl_hub_detections_rejected_total",
			Help: "Detections rejected by validation",
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anvl_hub_publish_failures_total",
			Help: "Live feed publish failures by publisher",
		}, []string{"publisher"}),
	}
	if registry != nil {
		for _, c := range []prometheus.Collector{m.Ingested, m.Duplicates, m.Rejected, m.PublishFailures} {
			if err := registry.Register(c); err != nil {
				return nil, fmt.Errorf("failed to register hub metrics: %w", err)
			}
		}
	}
	return m, nil
}

func (m *HubMetrics) IncIngested() {
	if m != nil {
		m.Ingested.Inc()
	}
}

func (m *HubMetrics) IncDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *HubMetrics) IncRejected() {
	if m != nil {
		m.Rejected.Inc()
	}
}

func (m *HubMetrics) IncPublishFailure(publisher string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(publisher).Inc()
	}
}
