package memory

import (
	"context"
	"sync"

	"gatehouse.org/internal/session"
)

// TokenStore keeps rotation chains in a map. The single mutex serializes the
// check-then-revoke step of Consume, so exactly one of two concurrent
// refresh attempts on the same token can win.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]*session.RefreshToken
}

var _ session.TokenStore = (*TokenStore)(nil)

// NewTokenStore returns an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]*session.RefreshToken)}
}

// Create appends a fresh Active token.
func (s *TokenStore) Create(ctx context.Context, tok *session.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

// Find returns the token scoped to its owner.
func (s *TokenStore) Find(ctx context.Context, ownerID, token string) (*session.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	if !ok || rec.OwnerID != ownerID {
		return nil, session.ErrRefreshTokenInvalid
	}
	cp := *rec
	return &cp, nil
}

// Consume atomically retires the token and appends its replacement. The
// revoked flag is checked and flipped under the same lock; a loser of the
// race observes ErrRefreshTokenInvalid.
func (s *TokenStore) Consume(ctx context.Context, ownerID, token string, replacement *session.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	if !ok || rec.OwnerID != ownerID || rec.Revoked {
		return session.ErrRefreshTokenInvalid
	}
	rec.Revoked = true
	rec.RevokedReason = session.ReasonConsumed
	rec.ReplacedByToken = replacement.Token
	cp := *replacement
	s.tokens[replacement.Token] = &cp
	return nil
}

// Revoke marks the matching still-active token. Idempotent.
func (s *TokenStore) Revoke(ctx context.Context, ownerID, token string, reason session.RevocationReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	if !ok || rec.OwnerID != ownerID || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	rec.RevokedReason = reason
	return nil
}
