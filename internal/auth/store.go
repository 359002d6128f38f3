package auth

import "context"

// UserStore describes persistence operations required by the auth subsystem.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersByFactory(ctx context.Context, factoryID string) ([]*User, error)
	// UpdateUserRole is the privileged role change; role immutability otherwise
	// is enforced by there being no other write path.
	UpdateUserRole(ctx context.Context, userID string, role Role) error
	UpdateUserStatus(ctx context.Context, userID string, active bool) error
}
