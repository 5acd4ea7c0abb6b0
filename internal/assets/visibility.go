package assets

import (
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// NextVisibility is the single place deciding what an asset's visibility
// should be. Every caller that wants to flip visibility goes through here so
// the "never visible while a blocking failure stands" invariant has one home.
//
// Rules, in order:
//  1. An explicit operator override freezes visibility as-is.
//  2. A blocking failure (processing_failed flag, failed promotion, or a
//     failed analysis cursor) forces the asset off end-user views as
//     failed, even when it was published before the failure landed.
//  3. A fully-succeeded pipeline makes the asset visible.
//  4. Anything else stays hidden while processing continues.
func NextVisibility(asset *models.Asset) enums.AssetVisibility {
	if asset.Metadata.Bool(models.MetaVisibilityOverride) {
		return asset.Visibility
	}

	if blockingFailure(asset) {
		return enums.AssetFailed
	}

	if asset.PipelineSucceeded() && asset.AnalysisStatus == enums.AnalysisComplete {
		return enums.AssetVisible
	}

	if asset.Visibility == enums.AssetVisible {
		// Already published and nothing is wrong; reprocessing a visible
		// asset must not flicker it out of end-user views.
		return enums.AssetVisible
	}
	return enums.AssetHidden
}

func blockingFailure(asset *models.Asset) bool {
	if asset.Metadata.Bool(models.MetaProcessingFailed) {
		return true
	}
	if asset.AnalysisStatus == enums.AnalysisFailed {
		return true
	}
	for _, stage := range enums.PipelineStages {
		if asset.StageStatus(stage) == enums.StageFailed {
			return true
		}
	}
	return false
}
