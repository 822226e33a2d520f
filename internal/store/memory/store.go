// Package memory provides in-process implementations of the identity
// directory and the refresh-token store. They back tests and the storage-less
// dev mode; a mutex gives them the same per-token atomicity the Postgres
// store gets from transactions.
package memory

import (
	"context"
	"sort"
	"sync"

	"gatehouse.org/internal/identity"
)

// Directory holds principals behind one lock.
type Directory struct {
	mu         sync.RWMutex
	principals map[string]*identity.Principal
	byEmail    map[string]string
}

var _ identity.Directory = (*Directory)(nil)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		principals: make(map[string]*identity.Principal),
		byEmail:    make(map[string]string),
	}
}

// Create persists a new principal.
func (d *Directory) Create(ctx context.Context, p *identity.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byEmail[p.Email]; ok {
		if existing := d.principals[id]; existing != nil && !existing.Deleted {
			return identity.ErrEmailTaken
		}
	}
	d.principals[p.ID] = clonePrincipal(p)
	d.byEmail[p.Email] = p.ID
	return nil
}

// Find returns the principal by id, soft-deleted records included.
func (d *Directory) Find(ctx context.Context, id string) (*identity.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return clonePrincipal(p), nil
}

// FindByEmail returns the live principal registered under the address.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*identity.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	p := d.principals[id]
	if p == nil || p.Deleted {
		return nil, identity.ErrNotFound
	}
	return clonePrincipal(p), nil
}

// Update replaces the stored record.
func (d *Directory) Update(ctx context.Context, p *identity.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.principals[p.ID]
	if !ok {
		return identity.ErrNotFound
	}
	if existing.Email != p.Email {
		if otherID, taken := d.byEmail[p.Email]; taken && otherID != p.ID {
			if other := d.principals[otherID]; other != nil && !other.Deleted {
				return identity.ErrEmailTaken
			}
		}
		delete(d.byEmail, existing.Email)
		d.byEmail[p.Email] = p.ID
	}
	d.principals[p.ID] = clonePrincipal(p)
	return nil
}

// SoftDelete flags the principal deleted.
func (d *Directory) SoftDelete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.principals[id]
	if !ok {
		return identity.ErrNotFound
	}
	p.Deleted = true
	return nil
}

// List returns all live principals ordered by creation time.
func (d *Directory) List(ctx context.Context) ([]*identity.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*identity.Principal
	for _, p := range d.principals {
		if p.Deleted {
			continue
		}
		out = append(out, clonePrincipal(p))
	}
	sortPrincipals(out)
	return out, nil
}

// ListManagedBy returns the live principals owned by the admin.
func (d *Directory) ListManagedBy(ctx context.Context, adminID string) ([]*identity.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*identity.Principal
	for _, p := range d.principals {
		if p.Deleted || p.ManagedByAdminID != adminID {
			continue
		}
		out = append(out, clonePrincipal(p))
	}
	sortPrincipals(out)
	return out, nil
}

func clonePrincipal(p *identity.Principal) *identity.Principal {
	cp := *p
	cp.Roles = append([]identity.Role(nil), p.Roles...)
	cp.Claims = append([]identity.PermissionClaim(nil), p.Claims...)
	return &cp
}

func sortPrincipals(list []*identity.Principal) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
