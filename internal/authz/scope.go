package authz

import (
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/token"
)

// ScopeResolver enforces the managed-by ownership hierarchy on top of
// permission decisions. It applies only to principal-scoped resources and is
// evaluated independently of, and in addition to, the Evaluator.
type ScopeResolver struct{}

// CanAccess reports whether the caller may read, update or delete the target
// principal. SuperAdmin is unrestricted; an admin reaches only principals it
// owns; everyone else reaches only themselves.
func (ScopeResolver) CanAccess(caller *token.Claims, target *identity.Principal) bool {
	if caller == nil || target == nil {
		return false
	}
	switch {
	case caller.HasRole(identity.RoleSuperAdmin):
		return true
	case caller.HasRole(identity.RoleAdmin):
		return target.ManagedByAdminID != "" && target.ManagedByAdminID == caller.Subject
	default:
		return target.ID == caller.Subject
	}
}

// ClampCreate pins a draft principal to the creating caller. Admin callers
// always become the owner and the draft is forced to the lowest tier,
// overriding whatever the client supplied; only SuperAdmin may set an
// arbitrary owner and role at creation time.
func (ScopeResolver) ClampCreate(caller *token.Claims, draft *identity.Principal) {
	if caller.HasRole(identity.RoleSuperAdmin) {
		if len(draft.Roles) == 0 {
			draft.Roles = []identity.Role{identity.RoleUser}
		}
		return
	}
	draft.ManagedByAdminID = caller.Subject
	draft.Roles = []identity.Role{identity.RoleUser}
}
