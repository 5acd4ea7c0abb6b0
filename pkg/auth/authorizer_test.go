package auth

import (
	"testing"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

func TestRoleAuthorizerGrid(t *testing.T) {
	authorizer := NewRoleAuthorizer()

	cases := []struct {
		role       enums.ActorRole
		capability Capability
		want       bool
	}{
		{enums.RoleAdmin, CapAssetsOverride, true},
		{enums.RoleAdmin, CapIncidentsResolve, true},
		{enums.RoleOperator, CapIncidentsResolve, true},
		{enums.RoleOperator, CapTicketsResolve, true},
		{enums.RoleOperator, CapAssetsOverride, false},
		{enums.RoleViewer, CapIncidentsRead, true},
		{enums.RoleViewer, CapIncidentsResolve, false},
		{enums.RoleViewer, CapUploadsFinalize, false},
		{enums.ActorRole("intern"), CapIncidentsRead, false},
	}
	for _, tc := range cases {
		actor := Actor{ID: uuid.New(), Role: tc.role}
		if got := authorizer.Can(actor, tc.capability); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.capability, got, tc.want)
		}
	}
}
