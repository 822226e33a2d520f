package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/token"
)

func newGateway(t *testing.T) (*Gateway, *token.Issuer) {
	t.Helper()
	issuer, err := token.New([]byte("test-secret-test-secret-test-000"))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	gw, err := NewGateway(issuer)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gw, issuer
}

func TestAuthorize(t *testing.T) {
	gw, issuer := newGateway(t)
	admin := &identity.Principal{
		ID:    "admin-1",
		Email: "admin@example.com",
		Roles: []identity.Role{identity.RoleAdmin},
		Claims: []identity.PermissionClaim{
			{Type: identity.ClaimTypePermission, Value: identity.PermUsersRead},
		},
	}
	raw, _, err := issuer.IssueAccessToken(admin)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	managed := &identity.Principal{ID: "u-1", ManagedByAdminID: "admin-1"}
	foreign := &identity.Principal{ID: "u-2", ManagedByAdminID: "admin-2"}

	t.Run("permission and scope pass", func(t *testing.T) {
		claims, err := gw.Authorize(raw, identity.PermUsersRead, managed)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if claims.Subject != admin.ID {
			t.Fatalf("subject=%q", claims.Subject)
		}
	})

	t.Run("missing permission denied", func(t *testing.T) {
		_, err := gw.Authorize(raw, identity.PermUsersDelete, managed)
		if !errors.Is(err, ErrDenied) {
			t.Fatalf("expected ErrDenied, got %v", err)
		}
	})

	t.Run("scope failure reads as not found", func(t *testing.T) {
		_, err := gw.Authorize(raw, identity.PermUsersRead, foreign)
		if !errors.Is(err, identity.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("empty permission skips the permission check", func(t *testing.T) {
		if _, err := gw.Authorize(raw, "", managed); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	})

	t.Run("nil target skips scoping", func(t *testing.T) {
		if _, err := gw.Authorize(raw, identity.PermUsersRead, nil); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := gw.Authorize("garbage", identity.PermUsersRead, managed)
		if !errors.Is(err, token.ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})
}

func TestAuthorizeRejectsExpiredToken(t *testing.T) {
	stale, err := token.New([]byte("test-secret-test-secret-test-000"),
		token.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	gw, _ := newGateway(t)
	raw, _, err := stale.IssueAccessToken(&identity.Principal{ID: "p-1", Roles: []identity.Role{identity.RoleSuperAdmin}})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := gw.Authorize(raw, identity.PermUsersList, nil); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthorizeClaimsNil(t *testing.T) {
	gw, _ := newGateway(t)
	if err := gw.AuthorizeClaims(nil, identity.PermUsersList, nil); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	claims := callerClaims("p-1", "user")
	ctx := ContextWithClaims(context.Background(), claims)
	got, ok := ClaimsFromContext(ctx)
	if !ok || got.Subject != "p-1" {
		t.Fatalf("claims not round-tripped: %v %v", got, ok)
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatal("expected no claims on a bare context")
	}
}
