package apiapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/voxclip-safety/internal/services/auth"
)

func TestRequireRoleAllowsCaseInsensitiveMatch(t *testing.T) {
	mw := RequireRole("ADMIN", "MODERATOR")

	req := httptest.NewRequest(http.MethodGet, "/admin/moderation/queue", nil)
	req = req.WithContext(authsvc.WithIdentity(context.Background(), authsvc.Identity{
		AdminID: uuid.New(),
		Role:    "moderator",
	}))
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNoContent)
	}
}

func TestRequireRoleRejectsForbiddenRole(t *testing.T) {
	mw := RequireRole("ADMIN", "MODERATOR")

	req := httptest.NewRequest(http.MethodGet, "/admin/moderation/queue", nil)
	req = req.WithContext(authsvc.WithIdentity(context.Background(), authsvc.Identity{
		AdminID: uuid.New(),
		Role:    "viewer",
	}))
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called for forbidden role")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusForbidden)
	}
}

func TestInternalTokenMiddleware(t *testing.T) {
	cases := []struct {
		configured string
		provided   string
		status     int
	}{
		{"secret", "secret", http.StatusNoContent},
		{"secret", "wrong", http.StatusUnauthorized},
		{"secret", "", http.StatusUnauthorized},
		{"", "", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/safety/inbound", nil)
		if tc.provided != "" {
			req.Header.Set("X-Internal-Token", tc.provided)
		}
		rr := httptest.NewRecorder()
		InternalTokenMiddleware(tc.configured)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("configured=%q provided=%q: got %d want %d", tc.configured, tc.provided, rr.Code, tc.status)
		}
	}
}

func TestAdminAuthMiddlewareRequiresDeviceID(t *testing.T) {
	manager := authsvc.NewJWTManager("secret", time.Minute)
	token, _, err := manager.GenerateAccessToken(uuid.New(), authsvc.RoleAdmin)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	AdminAuthMiddleware(manager, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called without a device id")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAdminAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	manager := authsvc.NewJWTManager("secret", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.Header.Set("X-Device-Id", "device-1")
	rr := httptest.NewRecorder()

	AdminAuthMiddleware(manager, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called on invalid token")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAdminAuthMiddlewareSetsIdentity(t *testing.T) {
	manager := authsvc.NewJWTManager("secret", time.Minute)
	adminID := uuid.New()
	token, _, err := manager.GenerateAccessToken(adminID, authsvc.RoleModerator)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Device-Id", "device-7")
	req.RemoteAddr = "192.0.2.77:51234"
	rr := httptest.NewRecorder()

	AdminAuthMiddleware(manager, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := authsvc.IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity missing in context")
		}
		if identity.AdminID != adminID || identity.Role != authsvc.RoleModerator {
			t.Fatalf("unexpected identity: %+v", identity)
		}
		if identity.DeviceID != "device-7" || identity.IPAddress != "192.0.2.77" {
			t.Fatalf("unexpected attribution: %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNoContent)
	}
}
