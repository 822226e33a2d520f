package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/store/memory"
	"gatehouse.org/internal/token"
)

type fixture struct {
	directory *memory.Directory
	tokens    *memory.TokenStore
	issuer    *token.Issuer
	manager   *session.Manager
}

func newFixture(t *testing.T, opts ...session.ManagerOption) *fixture {
	t.Helper()
	issuer, err := token.New([]byte("test-secret-test-secret-test-000"))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	directory := memory.NewDirectory()
	tokens := memory.NewTokenStore()
	mgr, err := session.NewManager(directory, tokens, issuer, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &fixture{directory: directory, tokens: tokens, issuer: issuer, manager: mgr}
}

func (f *fixture) register(t *testing.T, email string) (session.Session, *identity.Principal) {
	t.Helper()
	sess, p, err := f.manager.Register(context.Background(), email, "hunter2hunter2", "Test User")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return sess, p
}

func TestRegisterIssuesSession(t *testing.T) {
	f := newFixture(t)
	sess, p := f.register(t, "ada@example.com")

	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("session tokens missing")
	}
	claims, err := f.issuer.ParseAndValidate(sess.AccessToken)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != p.ID {
		t.Fatalf("subject=%q, want %q", claims.Subject, p.ID)
	}
	if !claims.HasRole(identity.RoleUser) || claims.HasRole(identity.RoleAdmin) {
		t.Fatalf("new registrations must start at the lowest tier: %v", claims.Roles)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name, email, password, display string
	}{
		{"bad email", "not-an-email", "hunter2hunter2", "X"},
		{"short password", "ok@example.com", "short", "X"},
		{"blank display name", "ok@example.com", "hunter2hunter2", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.manager.Register(ctx, tc.email, tc.password, tc.display)
			if !errors.Is(err, identity.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com")
	_, _, err := f.manager.Register(context.Background(), "Ada@Example.com", "hunter2hunter2", "Again")
	if !errors.Is(err, identity.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	_, p := f.register(t, "ada@example.com")

	sess, got, err := f.manager.Login(context.Background(), "ADA@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("principal=%q, want %q", got.ID, p.ID)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("session tokens missing")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	_, p := f.register(t, "ada@example.com")
	if err := f.directory.SoftDelete(context.Background(), p.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	ctx := context.Background()
	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", "hunter2hunter2"},
		{"wrong password", "ada@example.com", "wrong-password"},
		{"deleted account", "ada@example.com", "hunter2hunter2"},
		{"empty credentials", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.manager.Login(ctx, tc.email, tc.password)
			if !errors.Is(err, session.ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
		})
	}
}

func TestBuildSessionRejectsDeletedPrincipal(t *testing.T) {
	f := newFixture(t)
	p := &identity.Principal{ID: "p-1", Email: "x@example.com", Deleted: true}
	_, err := f.manager.BuildSession(context.Background(), p)
	if !errors.Is(err, session.ErrPrincipalDeleted) {
		t.Fatalf("expected ErrPrincipalDeleted, got %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	f := newFixture(t)
	sess, p := f.register(t, "ada@example.com")
	ctx := context.Background()

	next, got, err := f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("principal=%q, want %q", got.ID, p.ID)
	}
	if next.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The old token is consumed and linked to its replacement.
	old, err := f.tokens.Find(ctx, p.ID, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !old.Revoked || old.RevokedReason != session.ReasonConsumed {
		t.Fatalf("old token not consumed: %+v", old)
	}
	if old.ReplacedByToken != next.RefreshToken {
		t.Fatalf("chain link missing: %q", old.ReplacedByToken)
	}

	// Replaying the consumed token must fail.
	if _, _, err := f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken); !errors.Is(err, session.ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid on replay, got %v", err)
	}

	// The replacement still works.
	if _, _, err := f.manager.Refresh(ctx, next.RefreshToken, next.AccessToken); err != nil {
		t.Fatalf("Refresh with replacement: %v", err)
	}
}

func TestRefreshPicksUpCurrentRoles(t *testing.T) {
	f := newFixture(t)
	sess, p := f.register(t, "ada@example.com")
	ctx := context.Background()

	// Promote after the first session was issued.
	p.Roles = append(p.Roles, identity.RoleAdmin)
	p.Claims = []identity.PermissionClaim{{Type: identity.ClaimTypePermission, Value: identity.PermUsersList}}
	if err := f.directory.Update(ctx, p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The outstanding access token keeps its issuance-time snapshot.
	stale, err := f.issuer.ParseAndValidate(sess.AccessToken)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if stale.HasRole(identity.RoleAdmin) {
		t.Fatal("outstanding token must keep its stale snapshot")
	}

	next, _, err := f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fresh, err := f.issuer.ParseAndValidate(next.AccessToken)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if !fresh.HasRole(identity.RoleAdmin) {
		t.Fatalf("refreshed token missing promoted role: %v", fresh.Roles)
	}
	if len(fresh.Permissions) != 1 || fresh.Permissions[0] != identity.PermUsersList {
		t.Fatalf("refreshed token missing granted permission: %v", fresh.Permissions)
	}
}

func TestRefreshRejectsBadAccessToken(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.register(t, "ada@example.com")
	_, _, err := f.manager.Refresh(context.Background(), sess.RefreshToken, "garbage")
	if !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshRejectsForeignToken(t *testing.T) {
	f := newFixture(t)
	adaSess, _ := f.register(t, "ada@example.com")
	_, eve := f.register(t, "eve@example.com")

	// Eve presents her own access token with Ada's refresh token; the lookup
	// is scoped to the access token's subject, so the pair never matches.
	eveAccess, _, err := f.issuer.IssueAccessToken(eve)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	_, _, err = f.manager.Refresh(context.Background(), adaSess.RefreshToken, eveAccess)
	if !errors.Is(err, session.ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	now := time.Now()
	clock := now
	f := newFixture(t,
		session.WithRefreshTTL(time.Hour),
		session.WithClock(func() time.Time { return clock }))
	sess, p := f.register(t, "ada@example.com")
	ctx := context.Background()

	clock = now.Add(2 * time.Hour)
	_, _, err := f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken)
	if !errors.Is(err, session.ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}

	// Expiry at use is recorded as a terminal state.
	rec, err := f.tokens.Find(ctx, p.ID, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !rec.Revoked || rec.RevokedReason != session.ReasonExpiredAtUse {
		t.Fatalf("expected expired_at_use, got %+v", rec)
	}
}

func TestRefreshRejectsDeletedPrincipal(t *testing.T) {
	f := newFixture(t)
	sess, p := f.register(t, "ada@example.com")
	ctx := context.Background()
	if err := f.directory.SoftDelete(ctx, p.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	_, _, err := f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken)
	if !errors.Is(err, session.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.register(t, "ada@example.com")
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _, errs[i] = f.manager.Refresh(ctx, sess.RefreshToken, sess.AccessToken)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, session.ErrRefreshTokenInvalid):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	sess, p := f.register(t, "ada@example.com")
	ctx := context.Background()

	// A second session for the same principal, as from another device.
	sibling, err := f.manager.BuildSession(ctx, p)
	if err != nil {
		t.Fatalf("BuildSession: %v", err)
	}

	if err := f.manager.Logout(ctx, p.ID, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	rec, err := f.tokens.Find(ctx, p.ID, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !rec.Revoked || rec.RevokedReason != session.ReasonLogout {
		t.Fatalf("expected logout revocation, got %+v", rec)
	}

	// Repeating the logout, or logging out an unknown token, is a no-op.
	if err := f.manager.Logout(ctx, p.ID, sess.RefreshToken); err != nil {
		t.Fatalf("Logout replay: %v", err)
	}
	if err := f.manager.Logout(ctx, p.ID, "no-such-token"); err != nil {
		t.Fatalf("Logout unknown token: %v", err)
	}

	// The sibling session is untouched.
	if _, _, err := f.manager.Refresh(ctx, sibling.RefreshToken, sibling.AccessToken); err != nil {
		t.Fatalf("sibling Refresh after logout: %v", err)
	}
}
