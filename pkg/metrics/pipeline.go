package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records pipeline stage outcomes and reliability activity.
type PipelineMetrics struct {
	stageCompleted *prometheus.CounterVec
	stageFailed    *prometheus.CounterVec
	incidents      *prometheus.CounterVec
	duplicates     prometheus.Counter
	escalations    prometheus.Counter
	repairs        prometheus.Counter
	openIncidents  prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	stageCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_completed_total",
		Help: "Completed pipeline stage executions.",
	}, []string{"stage"})
	stageFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_failed_total",
		Help: "Failed pipeline stage executions.",
	}, []string{"stage"})
	incidents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidents_recorded_total",
		Help: "Incidents recorded, labelled by source type.",
	}, []string{"source_type"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidents_deduplicated_total",
		Help: "Incident reports folded into an existing unresolved incident.",
	})
	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_tickets_created_total",
		Help: "Escalation tickets created.",
	})
	repairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asset_state_repairs_total",
		Help: "Reconciliation runs that changed asset state.",
	})
	openIncidents := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incidents_open",
		Help: "Unresolved incidents at the last retention sweep.",
	})
	reg.MustRegister(stageCompleted, stageFailed, incidents, duplicates, escalations, repairs, openIncidents)
	return &PipelineMetrics{
		stageCompleted: stageCompleted,
		stageFailed:    stageFailed,
		incidents:      incidents,
		duplicates:     duplicates,
		escalations:    escalations,
		repairs:        repairs,
		openIncidents:  openIncidents,
	}
}

// IncStageCompleted increments the completed counter for the stage.
func (p *PipelineMetrics) IncStageCompleted(stage string) {
	if p == nil || p.stageCompleted == nil {
		return
	}
	p.stageCompleted.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncStageFailed increments the failed counter for the stage.
func (p *PipelineMetrics) IncStageFailed(stage string) {
	if p == nil || p.stageFailed == nil {
		return
	}
	p.stageFailed.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncIncidentRecorded increments the incident counter for the source type.
func (p *PipelineMetrics) IncIncidentRecorded(sourceType string) {
	if p == nil || p.incidents == nil {
		return
	}
	p.incidents.WithLabelValues(normalizeLabel(sourceType)).Inc()
}

// IncIncidentDeduplicated counts a report absorbed by an unresolved incident.
func (p *PipelineMetrics) IncIncidentDeduplicated() {
	if p == nil || p.duplicates == nil {
		return
	}
	p.duplicates.Inc()
}

// IncEscalationTicket counts a newly created escalation ticket.
func (p *PipelineMetrics) IncEscalationTicket() {
	if p == nil || p.escalations == nil {
		return
	}
	p.escalations.Inc()
}

// SetOpenIncidents records how many incidents are currently unresolved.
func (p *PipelineMetrics) SetOpenIncidents(count int64) {
	if p == nil || p.openIncidents == nil {
		return
	}
	p.openIncidents.Set(float64(count))
}

// IncAssetRepaired counts a reconciliation that produced changes.
func (p *PipelineMetrics) IncAssetRepaired() {
	if p == nil || p.repairs == nil {
		return
	}
	p.repairs.Inc()
}
