package authz

import (
	"errors"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/token"
)

// ErrDenied indicates a role or permission mismatch. Scope failures surface
// as identity.ErrNotFound instead, so a denied caller cannot probe for the
// existence of principals outside its scope.
var ErrDenied = errors.New("authz: denied")

// Gateway is the single entry point callers use to guard an operation. It
// validates the access token (signature and lifetime, the full check), runs
// the permission decision and, when a target principal is supplied, the
// ownership scope. Both must pass. The gateway has no storage access beyond
// the claims already embedded in the token.
type Gateway struct {
	issuer    *token.Issuer
	evaluator Evaluator
	scopes    ScopeResolver
}

// NewGateway constructs a Gateway around the token issuer doing validation.
func NewGateway(issuer *token.Issuer) (*Gateway, error) {
	if issuer == nil {
		return nil, errors.New("authz: token issuer is required")
	}
	return &Gateway{issuer: issuer}, nil
}

// Authorize validates the raw access token and applies both checks. A nil
// target skips ownership scoping for operations that are not
// principal-scoped. An empty permission skips the permission check for
// endpoints that only need an authenticated caller.
func (g *Gateway) Authorize(accessToken, permission string, target *identity.Principal) (*token.Claims, error) {
	claims, err := g.issuer.ParseAndValidate(accessToken)
	if err != nil {
		return nil, token.ErrTokenInvalid
	}
	if err := g.AuthorizeClaims(claims, permission, target); err != nil {
		return nil, err
	}
	return claims, nil
}

// AuthorizeClaims applies the permission and scope checks to claims that were
// already validated, e.g. by the authentication middleware earlier in the
// request.
func (g *Gateway) AuthorizeClaims(claims *token.Claims, permission string, target *identity.Principal) error {
	if claims == nil {
		return token.ErrTokenInvalid
	}
	if permission != "" && !g.evaluator.Allows(claims, permission) {
		return ErrDenied
	}
	if target != nil && !g.scopes.CanAccess(claims, target) {
		return identity.ErrNotFound
	}
	return nil
}

// ClampCreate exposes the create-time ownership clamp for callers creating
// principals.
func (g *Gateway) ClampCreate(claims *token.Claims, draft *identity.Principal) {
	g.scopes.ClampCreate(claims, draft)
}
