package auth

import "slices"

// Permission is a named capability checked by the API.
type Permission string

// Permission constants.
const (
	PermMachineRead     Permission = "machine:read"
	PermLogbookWrite    Permission = "logbook:write"
	PermToolRead        Permission = "tool:read"
	PermMachineManage   Permission = "machine:manage"
	PermToolManage      Permission = "tool:manage"
	PermUserManage      Permission = "user:manage"
	PermAuditRead       Permission = "audit:read"
	PermRegistryRefresh Permission = "registry:refresh"
)

var operatorPermissions = []Permission{
	PermMachineRead,
	PermLogbookWrite,
	PermToolRead,
}

var rolePermissions = map[Role][]Permission{
	RoleOperator: operatorPermissions,
	RoleAdmin: append(slices.Clone(operatorPermissions),
		PermMachineManage,
		PermToolManage,
		PermUserManage,
		PermAuditRead,
		PermRegistryRefresh,
	),
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions of role, or nil for
// an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
