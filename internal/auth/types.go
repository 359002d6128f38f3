package auth

import "time"

// Role is one of the three fixed roles. There is no dynamic role creation;
// the permission matrix is static data, see rbac.go.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleFactoryManager  Role = "factory_manager"
	RoleFactoryOperator Role = "factory_operator"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFactoryManager, RoleFactoryOperator:
		return true
	}
	return false
}

// Permission is a namespaced capability of the form "resource:action".
type Permission string

const (
	PermProductsCreate  Permission = "products:create"
	PermProductsRead    Permission = "products:read"
	PermProductsUpdate  Permission = "products:update"
	PermProductsDelete  Permission = "products:delete"
	PermFactoriesCreate Permission = "factories:create"
	PermFactoriesRead   Permission = "factories:read"
	PermFactoriesUpdate Permission = "factories:update"
	PermFactoriesDelete Permission = "factories:delete"
	PermUsersCreate     Permission = "users:create"
	PermUsersRead       Permission = "users:read"
	PermUsersUpdate     Permission = "users:update"
	PermUsersDelete     Permission = "users:delete"
	PermAnalyticsRead   Permission = "analytics:read"
)

// User represents an account bound to a factory. Admins have an empty FactoryID.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	FactoryID    string    `json:"factory_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is the authenticated caller as seen by authorization decisions.
type Principal struct {
	UserID    string
	Role      Role
	FactoryID string
	Active    bool
}

// PrincipalFromUser builds the authorization view of a user record.
func PrincipalFromUser(u User) Principal {
	return Principal{
		UserID:    u.ID,
		Role:      u.Role,
		FactoryID: u.FactoryID,
		Active:    u.Active,
	}
}
