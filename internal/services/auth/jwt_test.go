package auth

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	manager := NewJWTManager("secret", time.Minute)
	adminID := uuid.New()

	token, expiresAt, err := manager.GenerateAccessToken(adminID, "Moderator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := manager.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.AdminID != adminID || claims.Role != RoleModerator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(expiresAt.Truncate(time.Second)) {
		t.Fatalf("unexpected expiry: %s vs %s", claims.ExpiresAt, expiresAt)
	}
}

func TestJWTManagerRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := NewJWTManager("secret", time.Minute)
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return issuedAt }

	token, _, err := manager.GenerateAccessToken(uuid.New(), RoleAdmin)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	manager.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := manager.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewJWTManager("other-secret", time.Minute)
	foreign, _, err := other.GenerateAccessToken(uuid.New(), RoleAdmin)
	if err != nil {
		t.Fatalf("generate foreign token: %v", err)
	}
	if _, err := NewJWTManager("secret", time.Minute).ParseAccessToken(foreign); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign token to fail, got %v", err)
	}
}

func TestJWTManagerRejectsNonUUIDSubject(t *testing.T) {
	claims := tokenClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := NewJWTManager("secret", time.Minute).ParseAccessToken(raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected numeric subject to fail, got %v", err)
	}
}

func TestHasRole(t *testing.T) {
	allowed := []string{"admin", "moderator"}
	if !HasRole(" Admin ", allowed) {
		t.Fatalf("expected admin to be allowed")
	}
	if HasRole("viewer", allowed) || HasRole("", allowed) {
		t.Fatalf("unexpected role accepted")
	}
}

func TestIdentityActorCopiesAdminID(t *testing.T) {
	identity := Identity{AdminID: uuid.New(), DeviceID: "device-1", IPAddress: "192.0.2.10"}
	actor := identity.Actor()
	if actor.AdminID == nil || *actor.AdminID != identity.AdminID || actor.DeviceID != "device-1" || actor.IPAddress != "192.0.2.10" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}
