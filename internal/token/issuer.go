package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/identity"
)

const (
	defaultIssuer    = "gatehouse"
	defaultAudience  = "gatehouse-api"
	defaultAccessTTL = 15 * time.Minute
)

// ErrTokenInvalid indicates the token failed validation. Every rejection maps
// to this one error; the reason is never surfaced to callers.
var ErrTokenInvalid = errors.New("token: invalid token")

// Claims is the signed snapshot embedded into every access token. It copies
// the principal's roles and permission claims at issuance time, so validating
// a token never touches the directory.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the snapshot carries the role.
func (c *Claims) HasRole(role identity.Role) bool {
	for _, r := range c.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// TopRole returns the highest-ranked role in the snapshot.
func (c *Claims) TopRole() identity.Role {
	top := identity.RoleUser
	for _, r := range c.Roles {
		role, err := identity.ParseRole(r)
		if err != nil {
			continue
		}
		if role.Rank() > top.Rank() {
			top = role
		}
	}
	return top
}

// Issuer signs and validates access tokens with a single symmetric key and a
// fixed algorithm. Signing and validation are pure functions of the key and
// claim set, safe to run in parallel.
type Issuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// Option configures Issuer behavior.
type Option func(*Issuer) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(i *Issuer) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("token: issuer must not be empty")
		}
		i.issuer = issuer
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) Option {
	return func(i *Issuer) error {
		audience = strings.TrimSpace(audience)
		if audience == "" {
			return errors.New("token: audience must not be empty")
		}
		i.audience = audience
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// New constructs an Issuer around the symmetric signing key.
func New(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	iss := &Issuer{
		secret:    secret,
		issuer:    defaultIssuer,
		audience:  defaultAudience,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken signs an HS256 access token for the principal, embedding
// one claim per role and every permission claim verbatim.
func (i *Issuer) IssueAccessToken(p *identity.Principal) (string, time.Time, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("token: principal id is required")
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.accessTTL)

	roles := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, string(r))
	}

	claims := Claims{
		Email:       p.Email,
		Name:        p.DisplayName,
		Roles:       roles,
		Permissions: p.PermissionValues(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.ID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAndValidate verifies signature, algorithm, issuer, audience and
// lifetime. This is the full per-request check.
func (i *Issuer) ParseAndValidate(raw string) (*Claims, error) {
	return i.parse(raw, true)
}

// ParseExpired verifies everything ParseAndValidate does except the lifetime.
// It exists solely for the refresh path, which must recover the owner from an
// access token that has typically already expired.
func (i *Issuer) ParseExpired(raw string) (*Claims, error) {
	return i.parse(raw, false)
}

func (i *Issuer) parse(raw string, checkLifetime bool) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !checkLifetime {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if err := i.validateClaims(claims, checkLifetime); err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// validateClaims enforces the structural checks shared by both parse paths.
// With checkLifetime=false the jwt library skips all claim validation, so
// issuer and audience are re-checked here regardless.
func (i *Issuer) validateClaims(claims *Claims, checkLifetime bool) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if !hasAudience(claims.Audience, i.audience) {
		return errors.New("audience mismatch")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	now := i.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if !checkLifetime {
		return nil
	}
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	return nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
