package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is one tier of the ordered role hierarchy. Rather than scattering
// string comparisons through call sites, the hierarchy is an explicit ordered
// set with a single bypass-all tier at the top.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Rank returns the position of the role in the hierarchy; higher outranks lower.
func (r Role) Rank() int { return roleRank[r] }

// BypassesScopes reports whether the role is the top tier that skips
// ownership scoping and permission checks entirely.
func (r Role) BypassesScopes() bool { return r == RoleSuperAdmin }

const (
	// ClaimTypePermission is the reserved claim type carrying grantable
	// capability strings.
	ClaimTypePermission = "Permission"

	// PermissionNamespace prefixes every permission claim value. The catalog
	// under it is open-ended; new values need no code change here.
	PermissionNamespace = "Permissions."
)

// PermissionClaim is a type/value pair attached to a principal.
type PermissionClaim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Principal is an identity with roles and permission claims. It is a plain
// record: roles and claims are separate collections composed at read time,
// with no base-type relationship.
type Principal struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	DisplayName      string            `json:"display_name"`
	PasswordHash     string            `json:"-"`
	Roles            []Role            `json:"roles"`
	Claims           []PermissionClaim `json:"claims"`
	ManagedByAdminID string            `json:"managed_by_admin_id,omitempty"`
	Deleted          bool              `json:"deleted"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TopRole returns the highest-ranked role held. Principals without any role
// are treated as the lowest tier.
func (p *Principal) TopRole() Role {
	top := RoleUser
	for _, r := range p.Roles {
		if r.Rank() > top.Rank() {
			top = r
		}
	}
	return top
}

// PermissionValues returns the values of every reserved-type claim, in the
// order they were granted.
func (p *Principal) PermissionValues() []string {
	var values []string
	for _, c := range p.Claims {
		if c.Type == ClaimTypePermission {
			values = append(values, c.Value)
		}
	}
	return values
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ValidateEmail rejects addresses that cannot plausibly be delivered to.
func ValidateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return nil
}

// ValidateClaims checks that every claim uses the reserved type and stays
// inside the permission namespace.
func ValidateClaims(claims []PermissionClaim) error {
	for _, c := range claims {
		if c.Type != ClaimTypePermission {
			return fmt.Errorf("%w: unsupported claim type %q", ErrInvalidInput, c.Type)
		}
		if !strings.HasPrefix(c.Value, PermissionNamespace) {
			return fmt.Errorf("%w: permission %q outside namespace %s", ErrInvalidInput, c.Value, PermissionNamespace)
		}
	}
	return nil
}

// NormalizeRoles parses, deduplicates and validates a raw role list.
func NormalizeRoles(raw []string) ([]Role, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one role is required")
	}
	seen := make(map[Role]struct{}, len(raw))
	var roles []Role
	for _, r := range raw {
		role, err := ParseRole(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles, nil
}
