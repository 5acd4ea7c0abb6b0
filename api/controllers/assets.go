package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/api/responses"
	"github.com/mateovidal/brandvault-backend/api/validators"
	"github.com/mateovidal/brandvault-backend/internal/assets"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

// AssetService is the slice of the asset service the admin API drives.
type AssetService interface {
	FinalizeUpload(ctx context.Context, input assets.FinalizeInput) (*models.Asset, error)
	GetPipelineState(ctx context.Context, assetID uuid.UUID) (*assets.PipelineState, error)
	OverrideVisibility(ctx context.Context, assetID uuid.UUID, visibility enums.AssetVisibility) error
}

// AssetPipelineState exposes the per-stage processing view for one asset.
func AssetPipelineState(svc AssetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}

		id, err := assetIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state, err := svc.GetPipelineState(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}

type overrideVisibilityRequest struct {
	Visibility string `json:"visibility" validate:"required"`
}

// AssetOverrideVisibility pins an asset's visibility regardless of what the
// pipeline computes. Admin escape hatch.
func AssetOverrideVisibility(svc AssetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}

		id, err := assetIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body overrideVisibilityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		visibility, err := enums.ParseAssetVisibility(body.Visibility)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid visibility"))
			return
		}

		if err := svc.OverrideVisibility(r.Context(), id, visibility); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"asset_id": id, "visibility": visibility})
	}
}

type finalizeUploadRequest struct {
	UploadSessionID uuid.UUID `json:"upload_session_id" validate:"required"`
	TenantID        uuid.UUID `json:"tenant_id" validate:"required"`
	BrandID         uuid.UUID `json:"brand_id" validate:"required"`
	FileName        string    `json:"file_name" validate:"required,min=1,max=512"`
	MimeType        string    `json:"mime_type" validate:"required"`
	SizeBytes       int64     `json:"size_bytes" validate:"required,min=1"`
}

// UploadFinalize commits an upload session into an asset and kicks off the
// processing pipeline.
func UploadFinalize(svc AssetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}

		var body finalizeUploadRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asset, err := svc.FinalizeUpload(r.Context(), assets.FinalizeInput{
			UploadSessionID: body.UploadSessionID,
			TenantID:        body.TenantID,
			BrandID:         body.BrandID,
			FileName:        body.FileName,
			MimeType:        body.MimeType,
			SizeBytes:       body.SizeBytes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"asset_id":        asset.ID,
			"visibility":      asset.Visibility,
			"analysis_status": asset.AnalysisStatus,
		})
	}
}

func assetIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "assetId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid asset id")
	}
	return id, nil
}
