package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPipelineMetrics(reg)

	metrics.IncStageCompleted("thumbnail")
	metrics.IncStageFailed("tagging")
	metrics.IncIncidentRecorded("asset")
	metrics.IncIncidentDeduplicated()
	metrics.IncEscalationTicket()
	metrics.IncAssetRepaired()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "pipeline_stage_completed_total", "stage", "thumbnail"); err != nil {
		t.Fatalf("fetch stage completed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected completed=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "pipeline_stage_failed_total", "stage", "tagging"); err != nil {
		t.Fatalf("fetch stage failed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failed=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "incidents_recorded_total", "source_type", "asset"); err != nil {
		t.Fatalf("fetch incidents: %v", err)
	} else if got != 1 {
		t.Fatalf("expected incidents=1, got %f", got)
	}
}

func TestPipelineMetricsNilRegistererIsSafe(t *testing.T) {
	metrics := NewPipelineMetrics(nil)
	metrics.IncStageCompleted("metadata")
	metrics.IncStageFailed("promotion")
	metrics.IncIncidentRecorded("job")
	metrics.IncIncidentDeduplicated()
	metrics.IncEscalationTicket()
	metrics.IncAssetRepaired()
}
