package session

import (
	"context"
	"time"
)

// RevocationReason records which terminal state a refresh token entered.
// There is no transition out of a terminal state.
type RevocationReason string

const (
	ReasonConsumed     RevocationReason = "consumed"
	ReasonExpiredAtUse RevocationReason = "expired_at_use"
	ReasonLogout       RevocationReason = "logout"
)

// RefreshToken is one link of an append-only rotation chain. The raw token
// string is opaque and meaningless outside the store. Records are retained
// indefinitely for audit and replay inspection, never deleted.
type RefreshToken struct {
	Token           string           `json:"token"`
	OwnerID         string           `json:"owner_id"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
	Revoked         bool             `json:"revoked"`
	RevokedReason   RevocationReason `json:"revoked_reason,omitempty"`
	ReplacedByToken string           `json:"replaced_by_token,omitempty"`
}

// Consumable reports whether the token is still eligible for refresh. Once
// revoked it is never reusable, regardless of what happened to its
// replacement later.
func (t *RefreshToken) Consumable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenStore persists rotation chains. Mutations must be atomic per token:
// Consume is a compare-and-set, so concurrent refresh attempts on the same
// token yield exactly one winner.
type TokenStore interface {
	// Create appends a fresh Active token.
	Create(ctx context.Context, tok *RefreshToken) error

	// Find returns the token scoped to its owner; ErrRefreshTokenInvalid
	// when no such pair exists.
	Find(ctx context.Context, ownerID, token string) (*RefreshToken, error)

	// Consume atomically marks the token revoked (reason consumed), links it
	// to the replacement and appends the replacement as a new Active token.
	// The revoked flag must be false at check time and become true at write
	// time in one transaction; a caller that lost the race gets
	// ErrRefreshTokenInvalid.
	Consume(ctx context.Context, ownerID, token string, replacement *RefreshToken) error

	// Revoke marks the matching still-active token with the given reason.
	// Idempotent: no error when the token is absent or already revoked.
	Revoke(ctx context.Context, ownerID, token string, reason RevocationReason) error
}
