package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

type fakeTenantFinder struct {
	tenants map[uuid.UUID]*models.Tenant
}

func (f *fakeTenantFinder) FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	if tenant, ok := f.tenants[id]; ok {
		return tenant, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func newGate(t *testing.T, tenants ...*models.Tenant) *Service {
	t.Helper()
	finder := &fakeTenantFinder{tenants: map[uuid.UUID]*models.Tenant{}}
	for _, tenant := range tenants {
		finder.tenants[tenant.ID] = tenant
	}
	svc, err := NewService(finder)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAllowsPlanDefaults(t *testing.T) {
	free := &models.Tenant{ID: uuid.New(), PlanCode: "free", Features: dbtypes.JSONMap{}}
	enterprise := &models.Tenant{ID: uuid.New(), PlanCode: "enterprise", Features: dbtypes.JSONMap{}}
	gate := newGate(t, free, enterprise)
	ctx := context.Background()

	cases := []struct {
		tenant  *models.Tenant
		feature enums.PlanFeature
		want    bool
	}{
		{free, enums.FeatureAITagging, false},
		{free, enums.FeatureAutoRepair, true},
		{enterprise, enums.FeatureAITagging, true},
		{enterprise, enums.FeatureTriageSummary, true},
	}
	for _, tc := range cases {
		got, err := gate.Allows(ctx, tc.tenant.ID, tc.feature)
		if err != nil {
			t.Fatalf("Allows(%s, %s): %v", tc.tenant.PlanCode, tc.feature, err)
		}
		if got != tc.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tc.tenant.PlanCode, tc.feature, got, tc.want)
		}
	}
}

func TestAllowsTenantOverrideWins(t *testing.T) {
	tenant := &models.Tenant{
		ID:       uuid.New(),
		PlanCode: "free",
		Features: dbtypes.JSONMap{enums.FeatureAITagging.String(): true},
	}
	gate := newGate(t, tenant)

	got, err := gate.Allows(context.Background(), tenant.ID, enums.FeatureAITagging)
	if err != nil {
		t.Fatalf("Allows: %v", err)
	}
	if !got {
		t.Fatal("override should grant the feature despite the free plan")
	}
}

func TestAllowsDeniesUnknowns(t *testing.T) {
	tenant := &models.Tenant{ID: uuid.New(), PlanCode: "bespoke", Features: dbtypes.JSONMap{}}
	gate := newGate(t, tenant)
	ctx := context.Background()

	if got, _ := gate.Allows(ctx, uuid.New(), enums.FeatureAITagging); got {
		t.Fatal("unknown tenant must be denied")
	}
	if got, _ := gate.Allows(ctx, tenant.ID, enums.PlanFeature("teleport")); got {
		t.Fatal("unknown feature must be denied")
	}
	if got, _ := gate.Allows(ctx, tenant.ID, enums.FeatureAITagging); got {
		t.Fatal("unknown plan code must fall back to deny")
	}
}
