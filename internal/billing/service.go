package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
)

// planDefaults maps each plan code to the features it includes. Per-tenant
// overrides in tenants.features take precedence.
var planDefaults = map[string]map[enums.PlanFeature]bool{
	"free": {
		enums.FeatureAITagging:     false,
		enums.FeatureAutoRepair:    true,
		enums.FeatureTriageSummary: false,
	},
	"team": {
		enums.FeatureAITagging:     true,
		enums.FeatureAutoRepair:    true,
		enums.FeatureTriageSummary: false,
	},
	"enterprise": {
		enums.FeatureAITagging:     true,
		enums.FeatureAutoRepair:    true,
		enums.FeatureTriageSummary: true,
	},
}

type tenantFinder interface {
	FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// Service answers "does this tenant's plan include feature X". Read-only;
// plan changes happen outside this system.
type Service struct {
	tenants tenantFinder
}

// NewService constructs the plan gate.
func NewService(tenants tenantFinder) (*Service, error) {
	if tenants == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant repository required")
	}
	return &Service{tenants: tenants}, nil
}

// Allows reports whether the tenant may use the feature. Unknown tenants and
// unknown features are both denied.
func (s *Service) Allows(ctx context.Context, tenantID uuid.UUID, feature enums.PlanFeature) (bool, error) {
	if !feature.IsValid() {
		return false, nil
	}
	tenant, err := s.tenants.FindTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant")
	}
	return allowsFeature(tenant, feature), nil
}

func allowsFeature(tenant *models.Tenant, feature enums.PlanFeature) bool {
	if tenant.Features.Has(feature.String()) {
		return tenant.Features.Bool(feature.String())
	}
	if defaults, ok := planDefaults[tenant.PlanCode]; ok {
		return defaults[feature]
	}
	return false
}
