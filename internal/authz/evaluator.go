package authz

import (
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/token"
)

// Evaluator decides allow/deny for a requested permission string against an
// access token's claim snapshot. Decisions never re-query the directory; the
// snapshot embedded at issuance time is authoritative until the token expires.
type Evaluator struct{}

// Allows applies the decision rule in order: exact match on a granted
// permission claim, then the top-role bypass, then deny. The permission space
// is dot-separated by convention only; matching is exact-string, never
// prefix-based.
func (Evaluator) Allows(claims *token.Claims, permission string) bool {
	if claims == nil || permission == "" {
		return false
	}
	for _, granted := range claims.Permissions {
		if granted == permission {
			return true
		}
	}
	return claims.HasRole(identity.RoleSuperAdmin)
}
