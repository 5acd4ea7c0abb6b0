package auth

import "github.com/mateovidal/brandvault-backend/pkg/enums"

// Capability names one admin action an actor may or may not perform.
type Capability string

const (
	CapIncidentsRead    Capability = "incidents:read"
	CapIncidentsResolve Capability = "incidents:resolve"
	CapIncidentsRecover Capability = "incidents:recover"
	CapTicketsRead      Capability = "tickets:read"
	CapTicketsResolve   Capability = "tickets:resolve"
	CapAssetsRead       Capability = "assets:read"
	CapAssetsOverride   Capability = "assets:override_visibility"
	CapUploadsFinalize  Capability = "uploads:finalize"
	CapDownloadsReport  Capability = "downloads:report_failure"
)

// Authorizer answers capability checks for authenticated actors.
type Authorizer interface {
	Can(actor Actor, capability Capability) bool
}

// RoleAuthorizer grants capabilities by role. Admins can do everything,
// operators run the reliability surface, viewers only read.
type RoleAuthorizer struct {
	grants map[enums.ActorRole]map[Capability]bool
}

// NewRoleAuthorizer builds the default role grid.
func NewRoleAuthorizer() *RoleAuthorizer {
	readOnly := map[Capability]bool{
		CapIncidentsRead: true,
		CapTicketsRead:   true,
		CapAssetsRead:    true,
	}
	operator := map[Capability]bool{
		CapIncidentsRead:    true,
		CapIncidentsResolve: true,
		CapIncidentsRecover: true,
		CapTicketsRead:      true,
		CapTicketsResolve:   true,
		CapAssetsRead:       true,
		CapUploadsFinalize:  true,
		CapDownloadsReport:  true,
	}
	admin := map[Capability]bool{}
	for capability := range operator {
		admin[capability] = true
	}
	admin[CapAssetsOverride] = true

	return &RoleAuthorizer{
		grants: map[enums.ActorRole]map[Capability]bool{
			enums.RoleAdmin:    admin,
			enums.RoleOperator: operator,
			enums.RoleViewer:   readOnly,
		},
	}
}

// Can reports whether the actor's role includes the capability.
func (a *RoleAuthorizer) Can(actor Actor, capability Capability) bool {
	caps, ok := a.grants[actor.Role]
	if !ok {
		return false
	}
	return caps[capability]
}
