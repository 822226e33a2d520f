package identity

// Well-known permission values for the user-management surface. The catalog
// is open-ended: these are the values this service requests, not a closed
// server-side enumeration.
const (
	PermUsersList   = "Permissions.Users.List"
	PermUsersRead   = "Permissions.Users.Read"
	PermUsersCreate = "Permissions.Users.Create"
	PermUsersUpdate = "Permissions.Users.Update"
	PermUsersDelete = "Permissions.Users.Delete"
)
