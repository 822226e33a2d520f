package identity

import "context"

// Directory is the identity lookup and mutation surface the session and
// authorization core depends on. Implementations live under internal/store.
type Directory interface {
	// Create persists a new principal. ErrEmailTaken when the address is
	// already registered to a live record.
	Create(ctx context.Context, p *Principal) error

	// Find returns the principal by id, including soft-deleted records so
	// callers can distinguish "deleted" from "never existed".
	Find(ctx context.Context, id string) (*Principal, error)

	// FindByEmail returns the live principal registered under the address.
	FindByEmail(ctx context.Context, email string) (*Principal, error)

	// Update replaces the mutable fields (profile, roles, claims, owner).
	Update(ctx context.Context, p *Principal) error

	// SoftDelete flags the principal deleted; records are never removed.
	SoftDelete(ctx context.Context, id string) error

	// List returns all live principals.
	List(ctx context.Context) ([]*Principal, error)

	// ListManagedBy returns the live principals owned by the given admin.
	ListManagedBy(ctx context.Context, adminID string) ([]*Principal, error)
}
