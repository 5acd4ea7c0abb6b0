package enums

import "fmt"

// ActorRole is the access level carried in an operator token.
type ActorRole string

const (
	RoleAdmin    ActorRole = "admin"
	RoleOperator ActorRole = "operator"
	RoleViewer   ActorRole = "viewer"
)

var validActorRoles = []ActorRole{
	RoleAdmin,
	RoleOperator,
	RoleViewer,
}

// String returns the literal string for the role.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is known.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
