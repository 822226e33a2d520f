package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/token"
)

const (
	defaultRefreshTTL = 7 * 24 * time.Hour
	minPasswordLength = 8
)

var (
	// ErrAuthenticationFailed covers bad credentials and deleted accounts.
	// Callers must not be able to distinguish "no such email" from "wrong
	// password" from "account deleted".
	ErrAuthenticationFailed = errors.New("session: authentication failed")

	// ErrPrincipalDeleted is returned when a session is requested for a
	// soft-deleted principal directly.
	ErrPrincipalDeleted = errors.New("session: principal is deleted")

	// ErrRefreshTokenInvalid covers unknown, expired and already-consumed
	// refresh tokens. The client must force a full re-login.
	ErrRefreshTokenInvalid = errors.New("session: refresh token invalid")
)

// Session is one issued token pair.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Manager orchestrates token issuance and refresh rotation over the identity
// directory and the refresh-token store.
type Manager struct {
	directory  identity.Directory
	tokens     TokenStore
	issuer     *token.Issuer
	refreshTTL time.Duration
	now        func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager) error

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) error {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewManager constructs a Manager.
func NewManager(directory identity.Directory, tokens TokenStore, issuer *token.Issuer, opts ...ManagerOption) (*Manager, error) {
	if directory == nil || tokens == nil || issuer == nil {
		return nil, errors.New("session: directory, token store and issuer are required")
	}
	m := &Manager{
		directory:  directory,
		tokens:     tokens,
		issuer:     issuer,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Now returns the manager's current UTC time, honoring WithClock.
func (m *Manager) Now() time.Time { return m.now().UTC() }

// BuildSession signs an access token for the principal and appends a fresh
// Active refresh token. Fails for soft-deleted principals.
func (m *Manager) BuildSession(ctx context.Context, p *identity.Principal) (Session, error) {
	if p == nil {
		return Session{}, ErrAuthenticationFailed
	}
	if p.Deleted {
		return Session{}, ErrPrincipalDeleted
	}
	accessToken, expiresAt, err := m.issuer.IssueAccessToken(p)
	if err != nil {
		return Session{}, err
	}
	opaque, err := newOpaqueToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	rec := &RefreshToken{
		Token:     opaque,
		OwnerID:   p.ID,
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
	}
	if err := m.tokens.Create(ctx, rec); err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  accessToken,
		RefreshToken: opaque,
		ExpiresAt:    expiresAt,
	}, nil
}

// Register creates a lowest-tier principal and returns its first session.
func (m *Manager) Register(ctx context.Context, email, password, displayName string) (Session, *identity.Principal, error) {
	email = identity.NormalizeEmail(email)
	if err := identity.ValidateEmail(email); err != nil {
		return Session{}, nil, err
	}
	if len(password) < minPasswordLength {
		return Session{}, nil, fmt.Errorf("%w: password must be at least %d characters", identity.ErrInvalidInput, minPasswordLength)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Session{}, nil, fmt.Errorf("%w: display name is required", identity.ErrInvalidInput)
	}
	hash, err := identity.HashPassword(password)
	if err != nil {
		return Session{}, nil, err
	}
	now := m.now().UTC()
	p := &identity.Principal{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Roles:        []identity.Role{identity.RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.directory.Create(ctx, p); err != nil {
		return Session{}, nil, err
	}
	sess, err := m.BuildSession(ctx, p)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, p, nil
}

// Login authenticates credentials and issues a fresh session. Every failure
// mode collapses into ErrAuthenticationFailed.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, *identity.Principal, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, nil, ErrAuthenticationFailed
	}
	p, err := m.directory.FindByEmail(ctx, email)
	if err != nil {
		return Session{}, nil, ErrAuthenticationFailed
	}
	if p.Deleted {
		return Session{}, nil, ErrAuthenticationFailed
	}
	if err := identity.VerifyPassword(p.PasswordHash, password); err != nil {
		return Session{}, nil, ErrAuthenticationFailed
	}
	sess, err := m.BuildSession(ctx, p)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, p, nil
}

// Refresh rotates a refresh token. The access token is validated structurally
// (signature, issuer, audience) with the lifetime check disabled, only to
// recover the claimed owner; the refresh token lookup is scoped to that owner.
// The consume step is atomic: of two concurrent callers presenting the same
// token, exactly one succeeds.
func (m *Manager) Refresh(ctx context.Context, refreshToken, accessToken string) (Session, *identity.Principal, error) {
	claims, err := m.issuer.ParseExpired(accessToken)
	if err != nil {
		return Session{}, nil, token.ErrTokenInvalid
	}
	rec, err := m.tokens.Find(ctx, claims.Subject, refreshToken)
	if err != nil {
		return Session{}, nil, ErrRefreshTokenInvalid
	}
	now := m.now().UTC()
	if !rec.Consumable(now) {
		if !rec.Revoked {
			// Expired while still active; record the terminal state.
			_ = m.tokens.Revoke(ctx, rec.OwnerID, rec.Token, ReasonExpiredAtUse)
		}
		return Session{}, nil, ErrRefreshTokenInvalid
	}

	// Refresh always reissues a fresh snapshot of current roles and claims;
	// only outstanding access tokens stay stale, bounded by their TTL.
	p, err := m.directory.Find(ctx, claims.Subject)
	if err != nil {
		return Session{}, nil, ErrRefreshTokenInvalid
	}
	if p.Deleted {
		return Session{}, nil, ErrAuthenticationFailed
	}

	newAccess, expiresAt, err := m.issuer.IssueAccessToken(p)
	if err != nil {
		return Session{}, nil, err
	}
	opaque, err := newOpaqueToken()
	if err != nil {
		return Session{}, nil, err
	}
	replacement := &RefreshToken{
		Token:     opaque,
		OwnerID:   p.ID,
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
	}
	if err := m.tokens.Consume(ctx, rec.OwnerID, rec.Token, replacement); err != nil {
		return Session{}, nil, ErrRefreshTokenInvalid
	}
	return Session{
		AccessToken:  newAccess,
		RefreshToken: opaque,
		ExpiresAt:    expiresAt,
	}, p, nil
}

// Logout revokes the principal's matching refresh token. Idempotent, and
// deliberately scoped to the one token: sibling sessions on other devices
// keep their own pairs.
func (m *Manager) Logout(ctx context.Context, principalID, refreshToken string) error {
	if strings.TrimSpace(principalID) == "" || strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return m.tokens.Revoke(ctx, principalID, refreshToken, ReasonLogout)
}

// newOpaqueToken returns 256 bits of randomness, base64url-encoded.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
