package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
)

type fakeDB struct{}

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeAssets struct {
	asset        *models.Asset
	saved        int
	statusWrites []enums.StageStatus
	savedMeta    dbtypes.JSONMap
}

func (f *fakeAssets) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	if f.asset == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.asset, nil
}

func (f *fakeAssets) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Asset, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeAssets) SaveStateCAS(ctx context.Context, tx *gorm.DB, asset *models.Asset, expectedVersion int) error {
	f.saved++
	f.savedMeta = dbtypes.JSONMap{}
	for key, value := range asset.Metadata {
		f.savedMeta[key] = value
	}
	asset.Version = expectedVersion + 1
	return nil
}

func (f *fakeAssets) SetStageStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage enums.Stage, status enums.StageStatus) error {
	if f.asset != nil {
		f.asset.SetStageStatus(stage, status)
	}
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

type fakeFailures struct {
	count int
	rows  []*models.AssetDerivativeFailure
}

func (f *fakeFailures) RecordFailure(ctx context.Context, tx *gorm.DB, failure *models.AssetDerivativeFailure) (*models.AssetDerivativeFailure, error) {
	f.count++
	failure.ID = uuid.New()
	failure.FailureCount = f.count
	f.rows = append(f.rows, failure)
	return failure, nil
}

type fakeReconciler struct {
	calls []uuid.UUID
}

func (f *fakeReconciler) Reconcile(ctx context.Context, assetID uuid.UUID) (*reconcile.Result, error) {
	f.calls = append(f.calls, assetID)
	return &reconcile.Result{}, nil
}

type fakeReporter struct {
	reports  []reliability.Report
	incident *models.SystemIncident
}

func (f *fakeReporter) Report(ctx context.Context, report reliability.Report) (*reliability.ReportResult, error) {
	f.reports = append(f.reports, report)
	if f.incident == nil {
		f.incident = &models.SystemIncident{ID: uuid.New()}
	}
	return &reliability.ReportResult{Incident: f.incident, Created: true}, nil
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type stubRunner struct {
	output dbtypes.JSONMap
	err    error
	calls  int
}

func (s *stubRunner) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

type runnerFunc func(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error)

func (f runnerFunc) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	return f(ctx, asset)
}

func pipelineAsset() *models.Asset {
	asset := &models.Asset{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		BrandID:        uuid.New(),
		Visibility:     enums.AssetHidden,
		AnalysisStatus: enums.AnalysisGeneratingThumbnails,
		FileName:       "logo.png",
		MimeType:       "image/png",
		SizeBytes:      2048,
		Metadata: dbtypes.JSONMap{
			models.MetaStorageKey: "tenants/t1/logo.png",
		},
		Version: 1,
	}
	for _, stage := range enums.PipelineStages {
		asset.SetStageStatus(stage, enums.StagePending)
	}
	return asset
}

func newTestService(t *testing.T, assets *fakeAssets, failures *fakeFailures, repair *fakeReconciler, reporter *fakeReporter, emitter *fakeEmitter, runner StageRunner) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "pipeline-test", Output: io.Discard})
	runners := map[enums.Stage]StageRunner{}
	for _, stage := range enums.PipelineStages {
		runners[stage] = runner
	}
	svc, err := NewService(ServiceParams{
		DB:         fakeDB{},
		Assets:     assets,
		Failures:   failures,
		Runners:    runners,
		Reconciler: repair,
		Reporter:   reporter,
		Outbox:     emitter,
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func TestHandleStageSuccess(t *testing.T) {
	asset := pipelineAsset()
	assets := &fakeAssets{asset: asset}
	repair := &fakeReconciler{}
	emitter := &fakeEmitter{}
	runner := &stubRunner{output: dbtypes.JSONMap{models.MetaThumbnails: []string{"a/128.webp"}}}
	svc := newTestService(t, assets, &fakeFailures{}, repair, &fakeReporter{}, emitter, runner)

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if asset.ThumbnailStatus != enums.StageCompleted {
		t.Fatalf("expected completed status, got %s", asset.ThumbnailStatus)
	}
	if !asset.Metadata.NonEmptySlice(models.MetaThumbnails) {
		t.Fatal("expected runner output merged into metadata")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventStageCompleted {
		t.Fatalf("expected one stage_completed event, got %v", emitter.events)
	}
	if len(repair.calls) != 1 {
		t.Fatal("expected reconciliation after success")
	}
	if assets.saved != 1 {
		t.Fatalf("expected one CAS write, got %d", assets.saved)
	}
}

func TestHandleStageMarksProcessingWhileRunnerExecutes(t *testing.T) {
	asset := pipelineAsset()
	assets := &fakeAssets{asset: asset}
	var observed enums.StageStatus
	runner := runnerFunc(func(ctx context.Context, a *models.Asset) (dbtypes.JSONMap, error) {
		observed = a.StageStatus(enums.StageThumbnail)
		return dbtypes.JSONMap{}, nil
	})
	svc := newTestService(t, assets, &fakeFailures{}, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, runner)

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if observed != enums.StageProcessing {
		t.Fatalf("runner saw stage status %q, want processing", observed)
	}
	if len(assets.statusWrites) != 1 || assets.statusWrites[0] != enums.StageProcessing {
		t.Fatalf("expected one persisted processing write, got %v", assets.statusWrites)
	}
	if asset.ThumbnailStatus != enums.StageCompleted {
		t.Fatalf("expected completed status after the run, got %s", asset.ThumbnailStatus)
	}
}

func TestHandleStageFailurePersistsAttemptCounter(t *testing.T) {
	asset := pipelineAsset()
	assets := &fakeAssets{asset: asset}
	runner := &stubRunner{err: &StageError{
		Reason: enums.DerivativeUnsupported,
		Trace:  "unsupported content type",
	}}
	svc := newTestService(t, assets, &fakeFailures{}, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, runner)

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if got := assets.savedMeta.Int(models.MetaFailureAttempts); got != 1 {
		t.Fatalf("failure_attempts in the persisted snapshot = %d, want 1", got)
	}
}

func TestHandleStageAlreadyCompletedOnlyReconciles(t *testing.T) {
	asset := pipelineAsset()
	asset.SetStageStatus(enums.StageThumbnail, enums.StageCompleted)
	repair := &fakeReconciler{}
	runner := &stubRunner{}
	svc := newTestService(t, &fakeAssets{asset: asset}, &fakeFailures{}, repair, &fakeReporter{}, &fakeEmitter{}, runner)

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if runner.calls != 0 {
		t.Fatal("expected the runner skipped on redelivery")
	}
	if len(repair.calls) != 1 {
		t.Fatal("expected reconciliation to still run")
	}
}

func TestHandleStageMissingAssetAcks(t *testing.T) {
	svc := newTestService(t, &fakeAssets{}, &fakeFailures{}, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, &stubRunner{})
	if err := svc.HandleStage(context.Background(), uuid.New(), enums.StageThumbnail); err != nil {
		t.Fatalf("expected nil for a missing asset, got %v", err)
	}
}

func TestHandleStageFailureContract(t *testing.T) {
	asset := pipelineAsset()
	assets := &fakeAssets{asset: asset}
	failures := &fakeFailures{}
	repair := &fakeReconciler{}
	reporter := &fakeReporter{}
	emitter := &fakeEmitter{}
	runner := &stubRunner{err: &StageError{
		Reason: enums.DerivativeUnsupported,
		Trace:  "unsupported content type application/zip",
	}}
	svc := newTestService(t, assets, failures, repair, reporter, emitter, runner)

	// Non-retryable reason: the failure is recorded and the message acked.
	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if asset.ThumbnailStatus != enums.StageFailed {
		t.Fatalf("expected failed status, got %s", asset.ThumbnailStatus)
	}
	if asset.Metadata.String(models.MetaFailureReason) != string(enums.DerivativeUnsupported) {
		t.Fatal("expected the reason persisted on the asset")
	}
	if len(failures.rows) != 1 || failures.rows[0].FailureCount != 1 {
		t.Fatal("expected one failure row with count 1")
	}

	if len(reporter.reports) != 1 {
		t.Fatalf("expected one reliability report, got %d", len(reporter.reports))
	}
	report := reporter.reports[0]
	if report.SourceType != enums.SourceDerivative {
		t.Fatalf("unexpected source type %s", report.SourceType)
	}
	if report.Retryable {
		t.Fatal("unsupported media must not be retryable")
	}
	if report.UniqueSignature == "" {
		t.Fatal("expected a dedup signature on the report")
	}

	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventStageFailed {
		t.Fatalf("expected one stage_failed event, got %v", emitter.events)
	}
	if len(repair.calls) != 1 {
		t.Fatal("expected reconciliation after failure")
	}
}

func TestHandleStageRetryableFailureNacks(t *testing.T) {
	asset := pipelineAsset()
	runner := &stubRunner{err: &StageError{
		Reason: enums.DerivativeDiskFull,
		Trace:  "no space left on device",
	}}
	svc := newTestService(t, &fakeAssets{asset: asset}, &fakeFailures{}, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, runner)

	err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail)
	if err == nil {
		t.Fatal("expected an error for a retryable failure")
	}
}

func TestHandleStageFailureCountGrowsAcrossRetries(t *testing.T) {
	asset := pipelineAsset()
	failures := &fakeFailures{}
	runner := &stubRunner{err: &StageError{Reason: enums.DerivativeTimeout, Trace: "deadline exceeded"}}
	svc := newTestService(t, &fakeAssets{asset: asset}, failures, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, runner)

	for i := 0; i < 3; i++ {
		_ = svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail)
	}
	if failures.count != 3 {
		t.Fatalf("expected three recorded failures, got %d", failures.count)
	}
	if failures.rows[2].FailureCount != 3 {
		t.Fatalf("expected counter at 3, got %d", failures.rows[2].FailureCount)
	}
}

type stubPlanGate struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubPlanGate) Allows(ctx context.Context, tenantID uuid.UUID, feature enums.PlanFeature) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func TestHandleStageSkipsTaggingWhenPlanDenies(t *testing.T) {
	asset := pipelineAsset()
	assets := &fakeAssets{asset: asset}
	repair := &fakeReconciler{}
	emitter := &fakeEmitter{}
	runner := &stubRunner{}
	svc := newTestService(t, assets, &fakeFailures{}, repair, &fakeReporter{}, emitter, runner)
	svc.plans = &stubPlanGate{allowed: false}

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageTagging); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if runner.calls != 0 {
		t.Fatal("expected the tagging runner not to run")
	}
	if asset.TaggingStatus != enums.StageSkipped {
		t.Fatalf("expected skipped status, got %s", asset.TaggingStatus)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventStageCompleted {
		t.Fatalf("expected a stage_completed event to keep the chain moving, got %v", emitter.events)
	}
	if len(repair.calls) != 1 {
		t.Fatal("expected reconciliation after the skip")
	}
}

func TestHandleStagePlanGateOnlyConsultedForTagging(t *testing.T) {
	asset := pipelineAsset()
	gate := &stubPlanGate{allowed: true}
	runner := &stubRunner{output: dbtypes.JSONMap{}}
	svc := newTestService(t, &fakeAssets{asset: asset}, &fakeFailures{}, &fakeReconciler{}, &fakeReporter{}, &fakeEmitter{}, runner)
	svc.plans = gate

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if gate.calls != 0 {
		t.Fatal("expected the plan gate untouched for the thumbnail stage")
	}

	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageTagging); err != nil {
		t.Fatalf("HandleStage() error: %v", err)
	}
	if gate.calls != 1 {
		t.Fatalf("expected one plan lookup for tagging, got %d", gate.calls)
	}
	if runner.calls != 2 {
		t.Fatalf("expected both stages to run, got %d", runner.calls)
	}
}

func TestHandleStageWrapsUncodedRunnerError(t *testing.T) {
	asset := pipelineAsset()
	reporter := &fakeReporter{}
	runner := &stubRunner{err: errors.New("panic: nil map write")}
	svc := newTestService(t, &fakeAssets{asset: asset}, &fakeFailures{}, &fakeReconciler{}, reporter, &fakeEmitter{}, runner)

	// tool_crashed is retryable, so redelivery is requested.
	if err := svc.HandleStage(context.Background(), asset.ID, enums.StageThumbnail); err == nil {
		t.Fatal("expected retryable error for a crashed tool")
	}
	if len(reporter.reports) != 1 {
		t.Fatal("expected the crash reported")
	}
	if got := reporter.reports[0].Metadata["reason"]; got != string(enums.DerivativeToolCrashed) {
		t.Fatalf("expected tool_crashed fallback reason, got %v", got)
	}
}
