package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/authz"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/token"
)

type createUserRequest struct {
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	DisplayName      string   `json:"display_name"`
	Roles            []string `json:"roles,omitempty"`
	ManagedByAdminID string   `json:"managed_by_admin_id,omitempty"`
}

type updateUserRequest struct {
	Email            *string                    `json:"email,omitempty"`
	DisplayName      *string                    `json:"display_name,omitempty"`
	Password         *string                    `json:"password,omitempty"`
	Roles            []string                   `json:"roles,omitempty"`
	Claims           []identity.PermissionClaim `json:"claims,omitempty"`
	ManagedByAdminID *string                    `json:"managed_by_admin_id,omitempty"`
}

type listUsersResponse struct {
	Items []*identity.Principal `json:"items"`
}

// newListUsersResponse keeps empty listings serializing as [] rather than null.
func newListUsersResponse(items []*identity.Principal) listUsersResponse {
	if items == nil {
		items = []*identity.Principal{}
	}
	return listUsersResponse{Items: items}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r, claims)
	case http.MethodPost:
		a.createUser(w, r, claims)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	if err := a.gateway.AuthorizeClaims(claims, identity.PermUsersList, nil); err != nil {
		handleCoreError(w, r, err)
		return
	}
	var (
		items []*identity.Principal
		err   error
	)
	switch {
	case claims.HasRole(identity.RoleSuperAdmin):
		items, err = a.directory.List(r.Context())
	case claims.HasRole(identity.RoleAdmin):
		items, err = a.directory.ListManagedBy(r.Context(), claims.Subject)
	default:
		var self *identity.Principal
		self, err = a.directory.Find(r.Context(), claims.Subject)
		if err == nil && !self.Deleted {
			items = []*identity.Principal{self}
		}
	}
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListUsersResponse(items))
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	if err := a.gateway.AuthorizeClaims(claims, identity.PermUsersCreate, nil); err != nil {
		handleCoreError(w, r, err)
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if err := identity.ValidateEmail(email); err != nil {
		writeValidationError(w, r, map[string]string{"email": "valid email is required"})
		return
	}
	if len(req.Password) < 8 {
		writeValidationError(w, r, map[string]string{"password": "must be at least 8 characters"})
		return
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		writeValidationError(w, r, map[string]string{"display_name": "display name is required"})
		return
	}
	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	var roles []identity.Role
	if len(req.Roles) > 0 {
		roles, err = identity.NormalizeRoles(req.Roles)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
	}

	now := a.sessions.Now()
	draft := &identity.Principal{
		ID:               ids.New(),
		Email:            email,
		DisplayName:      displayName,
		PasswordHash:     hash,
		Roles:            roles,
		ManagedByAdminID: strings.TrimSpace(req.ManagedByAdminID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// An admin caller always becomes the owner and the draft drops to the
	// lowest tier, whatever the request asked for.
	a.gateway.ClampCreate(claims, draft)

	if err := a.ensureOwnerIsAdmin(w, r, draft.ManagedByAdminID); err != nil {
		return
	}
	if err := a.directory.Create(r.Context(), draft); err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.create", map[string]any{
		"principal_id": draft.ID,
		"owner_id":     draft.ManagedByAdminID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", draft.ID))
	writeJSON(w, http.StatusCreated, draft)
}

// ensureOwnerIsAdmin enforces the directory invariant that managed_by_admin_id
// must reference a live principal holding the admin role. Writes the response
// on failure.
func (a *API) ensureOwnerIsAdmin(w http.ResponseWriter, r *http.Request, ownerID string) error {
	if ownerID == "" {
		return nil
	}
	owner, err := a.directory.Find(r.Context(), ownerID)
	if err != nil || owner.Deleted || !owner.HasRole(identity.RoleAdmin) {
		writeValidationError(w, r, map[string]string{"managed_by_admin_id": "must reference an admin"})
		return fmt.Errorf("owner %s is not an admin", ownerID)
	}
	return nil
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var perm string
	switch r.Method {
	case http.MethodGet:
		perm = identity.PermUsersRead
	case http.MethodPut:
		perm = identity.PermUsersUpdate
	case http.MethodDelete:
		perm = identity.PermUsersDelete
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		return
	}

	// The permission decision runs before the lookup: a caller missing the
	// grant gets the same answer for every id, existing or not.
	if err := a.gateway.AuthorizeClaims(claims, perm, nil); err != nil {
		handleCoreError(w, r, err)
		return
	}

	target, err := a.directory.Find(r.Context(), id)
	if err != nil || target.Deleted {
		// Same response as an out-of-scope target: no existence oracle.
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.gateway.AuthorizeClaims(claims, "", target); err != nil {
		handleCoreError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, target)
	case http.MethodPut:
		a.updateUser(w, r, claims, target)
	case http.MethodDelete:
		a.deleteUser(w, r, target)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, target *identity.Principal) {
	writeJSON(w, http.StatusOK, target)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, claims *token.Claims, target *identity.Principal) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Role reassignment, claim-set replacement and ownership moves stay a
	// SuperAdmin operation; scope alone does not grant them.
	if (len(req.Roles) > 0 || req.Claims != nil || req.ManagedByAdminID != nil) &&
		!claims.HasRole(identity.RoleSuperAdmin) {
		handleCoreError(w, r, authz.ErrDenied)
		return
	}

	if req.Email != nil {
		email := identity.NormalizeEmail(*req.Email)
		if err := identity.ValidateEmail(email); err != nil {
			writeValidationError(w, r, map[string]string{"email": "valid email is required"})
			return
		}
		target.Email = email
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeValidationError(w, r, map[string]string{"display_name": "display name is required"})
			return
		}
		target.DisplayName = name
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			writeValidationError(w, r, map[string]string{"password": "must be at least 8 characters"})
			return
		}
		hash, err := identity.HashPassword(*req.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		target.PasswordHash = hash
	}
	if len(req.Roles) > 0 {
		roles, err := identity.NormalizeRoles(req.Roles)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		target.Roles = roles
	}
	if req.Claims != nil {
		if err := identity.ValidateClaims(req.Claims); err != nil {
			handleCoreError(w, r, err)
			return
		}
		target.Claims = req.Claims
	}
	if req.ManagedByAdminID != nil {
		owner := strings.TrimSpace(*req.ManagedByAdminID)
		if err := a.ensureOwnerIsAdmin(w, r, owner); err != nil {
			return
		}
		target.ManagedByAdminID = owner
	}

	target.UpdatedAt = a.sessions.Now()
	if err := a.directory.Update(r.Context(), target); err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.update", map[string]any{
		"principal_id": target.ID,
	})
	writeJSON(w, http.StatusOK, target)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, target *identity.Principal) {
	if err := a.directory.SoftDelete(r.Context(), target.ID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.delete", map[string]any{
		"principal_id": target.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if !claims.HasRole(identity.RoleAdmin) && !claims.HasRole(identity.RoleSuperAdmin) {
		handleCoreError(w, r, authz.ErrDenied)
		return
	}
	if err := a.gateway.AuthorizeClaims(claims, identity.PermUsersList, nil); err != nil {
		handleCoreError(w, r, err)
		return
	}
	items, err := a.directory.ListManagedBy(r.Context(), claims.Subject)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListUsersResponse(items))
}

func (a *API) handleSuperAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if !claims.HasRole(identity.RoleSuperAdmin) {
		handleCoreError(w, r, authz.ErrDenied)
		return
	}
	items, err := a.directory.List(r.Context())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListUsersResponse(items))
}
