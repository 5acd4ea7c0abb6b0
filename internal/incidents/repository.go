package incidents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/pagination"
)

// Repository persists SystemIncident rows. Incidents are append-only:
// resolution stamps resolved_at, rows are never deleted.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an incident repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateIgnoreDuplicate inserts the incident, relying on the partial unique
// index over (source_type, unique_signature) WHERE resolved_at IS NULL.
// When another unresolved incident already holds the signature the insert is
// a no-op and inserted=false is returned.
func (r *Repository) CreateIgnoreDuplicate(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(incident)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Create inserts the incident without dedup semantics.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Create(incident).Error
}

// FindByID retrieves one incident.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SystemIncident, error) {
	var incident models.SystemIncident
	if err := r.db.WithContext(ctx).First(&incident, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &incident, nil
}

// FindUnresolvedBySignature returns the open incident holding the signature,
// or nil when none exists.
func (r *Repository) FindUnresolvedBySignature(ctx context.Context, sourceType enums.IncidentSource, signature string) (*models.SystemIncident, error) {
	var incident models.SystemIncident
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND unique_signature = ? AND resolved_at IS NULL", sourceType, signature).
		First(&incident).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &incident, nil
}

// MarkResolved stamps resolved_at and the auto_resolved flag. Already
// resolved incidents are left untouched.
func (r *Repository) MarkResolved(ctx context.Context, tx *gorm.DB, id uuid.UUID, auto bool, resolvedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.SystemIncident{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_at":   resolvedAt,
			"auto_resolved": auto,
		}).Error
}

// MarkRequiresSupport flags the incident for human attention. One-way: the
// flag never clears while the incident is open.
func (r *Repository) MarkRequiresSupport(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.SystemIncident{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("requires_support", true).Error
}

// UpdateMetadata replaces the metadata bag for the incident.
func (r *Repository) UpdateMetadata(ctx context.Context, tx *gorm.DB, id uuid.UUID, metadata dbtypes.JSONMap) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.SystemIncident{}).
		Where("id = ?", id).
		Update("metadata", metadata).Error
}

// TouchDetectedAt refreshes detected_at on a deduplicated incident so
// operators can see the condition is still firing.
func (r *Repository) TouchDetectedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.SystemIncident{}).
		Where("id = ?", id).
		Update("detected_at", at).Error
}

// ListFilter narrows incident listings for the admin surface.
type ListFilter struct {
	SourceType *enums.IncidentSource
	Severity   *enums.IncidentSeverity
	TenantID   *uuid.UUID
	Unresolved bool
}

// List returns incidents ordered by severity (critical first) then
// detected_at descending, with cursor pagination over detected_at/id.
func (r *Repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.SystemIncident, string, error) {
	limit := pagination.LimitWithBuffer(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.SystemIncident{})
	if filter.SourceType != nil {
		query = query.Where("source_type = ?", *filter.SourceType)
	}
	if filter.Severity != nil {
		query = query.Where("severity = ?", *filter.Severity)
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Unresolved {
		query = query.Where("resolved_at IS NULL")
	}

	cursor, err := pagination.ParseRankedCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		// The primary sort key is the computed severity rank, so the
		// cursor has to resume inside the rank group before falling
		// through to recency. Comparing detected_at alone would drop
		// lower-severity rows newer than the cursor row.
		query = query.Where(
			"("+severityOrderExpr+" > ? OR ("+severityOrderExpr+" = ? AND (detected_at, id) < (?, ?)))",
			cursor.Rank, cursor.Rank, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.SystemIncident
	err = query.
		Order(severityOrderExpr).
		Order("detected_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) == limit {
		rows = rows[:limit-1]
		last := rows[len(rows)-1]
		next = pagination.EncodeRankedCursor(pagination.RankedCursor{
			Rank:   severityRank(last.Severity),
			Cursor: pagination.Cursor{CreatedAt: last.DetectedAt, ID: last.ID},
		})
	}
	return rows, next, nil
}

// severityOrderExpr sorts critical > error > warning.
const severityOrderExpr = "CASE severity WHEN 'critical' THEN 0 WHEN 'error' THEN 1 ELSE 2 END"

func severityRank(severity enums.IncidentSeverity) int {
	switch severity {
	case enums.SeverityCritical:
		return 0
	case enums.SeverityError:
		return 1
	default:
		return 2
	}
}

// ResolveAbandonedBefore sweeps open warning-severity incidents whose last
// detection is older than the cutoff, stamping them auto-resolved. Rows are
// kept: the incident log doubles as the audit trail.
func (r *Repository) ResolveAbandonedBefore(ctx context.Context, cutoff time.Time, resolvedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.SystemIncident{}).
		Where("resolved_at IS NULL AND severity = ? AND detected_at < ?", enums.SeverityWarning, cutoff).
		Updates(map[string]any{
			"resolved_at":   resolvedAt,
			"auto_resolved": true,
		})
	return result.RowsAffected, result.Error
}

// CountUnresolved reports open incidents, optionally per tenant.
func (r *Repository) CountUnresolved(ctx context.Context, tenantID *uuid.UUID) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SystemIncident{}).Where("resolved_at IS NULL")
	if tenantID != nil {
		query = query.Where("tenant_id = ?", tenantID)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}
