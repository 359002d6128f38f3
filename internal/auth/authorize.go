package auth

// DenyReason explains a negative authorization decision.
type DenyReason string

const (
	DenyInactiveAccount        DenyReason = "inactive_account"
	DenyInsufficientPermission DenyReason = "insufficient_permission"
	DenyTenantMismatch         DenyReason = "tenant_mismatch"
)

// Decision is the outcome of Authorize. Zero value is a deny without reason;
// use Allow/Deny constructors.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func Allow() Decision            { return Decision{Allowed: true} }
func Deny(r DenyReason) Decision { return Decision{Reason: r} }
func (d Decision) Denied() bool  { return !d.Allowed }

// Authorize answers whether the principal may perform perm on a resource owned
// by resourceFactoryID. Pure decision function; callers audit the outcome.
//
// The permission check runs before the tenant check on purpose: a caller
// lacking the base capability must see a permission error, not a tenant error,
// so denials do not confirm the existence of another tenant's resources.
func Authorize(p Principal, perm Permission, resourceFactoryID string) Decision {
	if !p.Active {
		return Deny(DenyInactiveAccount)
	}
	if !RoleHasPermission(p.Role, perm) {
		return Deny(DenyInsufficientPermission)
	}
	if p.Role == RoleAdmin {
		return Allow()
	}
	if resourceFactoryID != p.FactoryID {
		return Deny(DenyTenantMismatch)
	}
	return Allow()
}
