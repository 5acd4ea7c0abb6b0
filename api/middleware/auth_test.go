package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/auth"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{
	Secret:            "test-secret",
	Issuer:            "brandvault-test",
	ExpirationMinutes: 15,
}

func mintTestToken(t *testing.T, role enums.ActorRole, tenantID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWTConfig, time.Now(), auth.AccessTokenPayload{
		ActorID:  uuid.New(),
		TenantID: tenantID,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthPutsActorInContext(t *testing.T) {
	tenantID := uuid.New()
	var gotActor auth.Actor
	var gotOK bool

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor, gotOK = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	handler := Auth(testJWTConfig, nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, enums.RoleOperator, &tenantID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !gotOK {
		t.Fatal("expected actor in context")
	}
	if gotActor.Role != enums.RoleOperator {
		t.Fatalf("expected operator role, got %s", gotActor.Role)
	}
	if gotActor.TenantID == nil || *gotActor.TenantID != tenantID {
		t.Fatalf("expected tenant %s on actor", tenantID)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsWrongIssuer(t *testing.T) {
	otherIssuer := testJWTConfig
	otherIssuer.Issuer = "someone-else"
	token, err := auth.MintAccessToken(otherIssuer, time.Now(), auth.AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireCapabilityAllowsGrantedRole(t *testing.T) {
	authorizer := auth.NewRoleAuthorizer()
	chain := Auth(testJWTConfig, nil)(
		RequireCapability(authorizer, auth.CapIncidentsResolve, nil)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		),
	)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, enums.RoleOperator, nil))
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireCapabilityDeniesViewer(t *testing.T) {
	authorizer := auth.NewRoleAuthorizer()
	chain := Auth(testJWTConfig, nil)(
		RequireCapability(authorizer, auth.CapIncidentsResolve, nil)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler should not run")
			}),
		),
	)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, enums.RoleViewer, nil))
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireCapabilityWithoutAuthIsUnauthorized(t *testing.T) {
	handler := RequireCapability(auth.NewRoleAuthorizer(), auth.CapIncidentsRead, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler should not run")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
