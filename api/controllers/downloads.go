package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/api/responses"
	"github.com/mateovidal/brandvault-backend/api/validators"
	"github.com/mateovidal/brandvault-backend/internal/distribution"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

// DistributionService is the slice of the distribution service the admin
// API drives.
type DistributionService interface {
	ReportFailure(ctx context.Context, input distribution.FailureInput) (*models.Download, error)
}

type downloadFailureRequest struct {
	TenantID uuid.UUID `json:"tenant_id" validate:"required"`
	Reason   string    `json:"reason" validate:"required"`
	Detail   string    `json:"detail" validate:"max=2048"`
}

// DownloadFailureReport ingests one delivery failure from the distribution
// edge for the asset in the path.
func DownloadFailureReport(svc DistributionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "distribution service unavailable"))
			return
		}

		id, err := assetIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body downloadFailureRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := enums.ParseFailureReason(body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
			return
		}

		download, err := svc.ReportFailure(r.Context(), distribution.FailureInput{
			AssetID:  id,
			TenantID: body.TenantID,
			Reason:   reason,
			Detail:   body.Detail,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"download_id":   download.ID,
			"asset_id":      download.AssetID,
			"failure_count": download.FailureCount,
			"escalated":     download.HasTicket(),
		})
	}
}
