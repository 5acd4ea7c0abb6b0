package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
// Operator tokens are minted out of band; this service only validates them.
type AccessTokenPayload struct {
	ActorID  uuid.UUID
	TenantID *uuid.UUID
	Role     enums.ActorRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented by operators.
type AccessTokenClaims struct {
	ActorID  uuid.UUID       `json:"actor_id"`
	TenantID *uuid.UUID      `json:"tenant_id,omitempty"`
	Role     enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated identity handed to the Authorizer. A nil
// TenantID means the actor is not scoped to one tenant.
type Actor struct {
	ID       uuid.UUID
	Role     enums.ActorRole
	TenantID *uuid.UUID
}

// ActorFromClaims converts validated claims into an Actor.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	return Actor{
		ID:       claims.ActorID,
		Role:     claims.Role,
		TenantID: claims.TenantID,
	}
}
