package authz

import (
	"context"

	"gatehouse.org/internal/token"
)

type claimsContextKey struct{}

// ContextWithClaims attaches validated access-token claims to the context.
// Checks always receive the claims explicitly; the context carries them only
// between middleware and handler.
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the claims attached by the authentication
// middleware.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
