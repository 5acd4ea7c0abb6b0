package middleware

import (
	"net/http"
	"strings"

	"github.com/mateovidal/brandvault-backend/api/responses"
	pkgauth "github.com/mateovidal/brandvault-backend/pkg/auth"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := pkgauth.ActorFromClaims(claims)
			ctx := WithActor(r.Context(), actor)

			if logg != nil {
				fields := map[string]any{
					"actor_id":   actor.ID.String(),
					"actor_role": actor.Role.String(),
				}
				if actor.TenantID != nil {
					fields["tenant_id"] = actor.TenantID.String()
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability gates the route on an Authorizer decision. Must run
// inside Auth.
func RequireCapability(authorizer pkgauth.Authorizer, capability pkgauth.Capability, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if authorizer == nil || !authorizer.Can(actor, capability) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "capability denied"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
