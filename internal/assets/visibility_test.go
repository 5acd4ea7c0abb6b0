package assets

import (
	"testing"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

func completedAsset() *models.Asset {
	return &models.Asset{
		Visibility:      enums.AssetHidden,
		ThumbnailStatus: enums.StageCompleted,
		MetadataStatus:  enums.StageCompleted,
		TaggingStatus:   enums.StageSkipped,
		PromotionStatus: enums.StageCompleted,
		AnalysisStatus:  enums.AnalysisComplete,
		Metadata:        dbtypes.JSONMap{},
	}
}

func TestNextVisibilityPublishesCompletedPipeline(t *testing.T) {
	asset := completedAsset()
	if got := NextVisibility(asset); got != enums.AssetVisible {
		t.Fatalf("expected visible, got %s", got)
	}
}

func TestNextVisibilityKeepsHiddenWhileProcessing(t *testing.T) {
	asset := completedAsset()
	asset.TaggingStatus = enums.StageProcessing
	asset.AnalysisStatus = enums.AnalysisTagging
	if got := NextVisibility(asset); got != enums.AssetHidden {
		t.Fatalf("expected hidden, got %s", got)
	}
}

func TestNextVisibilityFailsVisibleAssetOnBlockingFailure(t *testing.T) {
	asset := completedAsset()
	asset.Visibility = enums.AssetVisible
	asset.Metadata = dbtypes.JSONMap{models.MetaProcessingFailed: true}
	if got := NextVisibility(asset); got != enums.AssetFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestNextVisibilityFailsVisibleAssetOnFailedPromotion(t *testing.T) {
	asset := completedAsset()
	asset.Visibility = enums.AssetVisible
	asset.PromotionStatus = enums.StageFailed
	if got := NextVisibility(asset); got != enums.AssetFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestNextVisibilityFailsNeverPublishedAsset(t *testing.T) {
	asset := completedAsset()
	asset.PromotionStatus = enums.StageFailed
	asset.AnalysisStatus = enums.AnalysisPromoting
	if got := NextVisibility(asset); got != enums.AssetFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestNextVisibilityHonorsOperatorOverride(t *testing.T) {
	asset := completedAsset()
	asset.Visibility = enums.AssetVisible
	asset.Metadata = dbtypes.JSONMap{
		models.MetaProcessingFailed:   true,
		models.MetaVisibilityOverride: true,
	}
	if got := NextVisibility(asset); got != enums.AssetVisible {
		t.Fatalf("expected override to hold visible, got %s", got)
	}
}

func TestNextVisibilityDoesNotFlickerVisibleAsset(t *testing.T) {
	asset := completedAsset()
	asset.Visibility = enums.AssetVisible
	asset.TaggingStatus = enums.StageProcessing
	asset.AnalysisStatus = enums.AnalysisTagging
	if got := NextVisibility(asset); got != enums.AssetVisible {
		t.Fatalf("expected visible to stick during reprocessing, got %s", got)
	}
}
