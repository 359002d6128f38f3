package auth

import "fmt"

// Catalog is the exhaustive permission list. The admin set below is derived
// from it, so adding a permission here grants it to admin automatically.
var Catalog = []Permission{
	PermProductsCreate,
	PermProductsRead,
	PermProductsUpdate,
	PermProductsDelete,
	PermFactoriesCreate,
	PermFactoriesRead,
	PermFactoriesUpdate,
	PermFactoriesDelete,
	PermUsersCreate,
	PermUsersRead,
	PermUsersUpdate,
	PermUsersDelete,
	PermAnalyticsRead,
}

// rolePermissions is the static role → permission matrix. No inheritance is
// computed at check time; each role's set is enumerated in full.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: permissionSet(Catalog...),
	RoleFactoryManager: permissionSet(
		PermProductsCreate,
		PermProductsRead,
		PermProductsUpdate,
		PermProductsDelete,
		PermFactoriesRead,
		PermFactoriesUpdate,
		PermUsersCreate,
		PermUsersRead,
		PermUsersUpdate,
		PermAnalyticsRead,
	),
	RoleFactoryOperator: permissionSet(
		PermProductsCreate,
		PermProductsRead,
		PermProductsUpdate,
	),
}

func permissionSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PermissionsFor returns a copy of the permission set for the role.
// Unknown roles get an empty set: authorization fails closed.
func PermissionsFor(role Role) map[Permission]struct{} {
	src, ok := rolePermissions[role]
	if !ok {
		return map[Permission]struct{}{}
	}
	out := make(map[Permission]struct{}, len(src))
	for p := range src {
		out[p] = struct{}{}
	}
	return out
}

// RoleHasPermission reports membership in the role's static set.
func RoleHasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// ValidateCatalog verifies that every referenced permission exists in the
// catalog. Called at startup with the permissions the route table names, so a
// typo surfaces as a boot failure instead of a route nobody can reach.
func ValidateCatalog(referenced ...Permission) error {
	known := permissionSet(Catalog...)
	for _, p := range referenced {
		if _, ok := known[p]; !ok {
			return fmt.Errorf("%w: permission %q is not in the catalog", ErrInvalidInput, p)
		}
	}
	return nil
}
