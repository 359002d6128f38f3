package auth

import "testing"

func TestAuthorizeTenantIsolation(t *testing.T) {
	operator := Principal{UserID: "u1", Role: RoleFactoryOperator, FactoryID: "F1", Active: true}

	if d := Authorize(operator, PermProductsRead, "F1"); d.Denied() {
		t.Fatalf("same-tenant read denied: %s", d.Reason)
	}
	d := Authorize(operator, PermProductsRead, "F2")
	if !d.Denied() || d.Reason != DenyTenantMismatch {
		t.Fatalf("expected tenant_mismatch, got %+v", d)
	}
}

func TestAuthorizeAdminBypassesTenantCheck(t *testing.T) {
	admin := Principal{UserID: "a1", Role: RoleAdmin, Active: true}
	for _, factory := range []string{"F1", "F2", ""} {
		if d := Authorize(admin, PermProductsRead, factory); d.Denied() {
			t.Fatalf("admin denied for factory %q: %s", factory, d.Reason)
		}
	}
}

func TestAuthorizeInactivePrincipal(t *testing.T) {
	inactive := Principal{UserID: "a1", Role: RoleAdmin, Active: false}
	d := Authorize(inactive, PermProductsRead, "F1")
	if !d.Denied() || d.Reason != DenyInactiveAccount {
		t.Fatalf("expected inactive_account, got %+v", d)
	}
}

func TestAuthorizePermissionCheckPrecedesTenantCheck(t *testing.T) {
	// Operator lacks analytics:read; even with a mismatched tenant the reason
	// must be insufficient_permission, never tenant_mismatch.
	operator := Principal{UserID: "u1", Role: RoleFactoryOperator, FactoryID: "F1", Active: true}
	d := Authorize(operator, PermAnalyticsRead, "F2")
	if !d.Denied() || d.Reason != DenyInsufficientPermission {
		t.Fatalf("expected insufficient_permission, got %+v", d)
	}
}

func TestAuthorizeUnknownRoleFailsClosed(t *testing.T) {
	p := Principal{UserID: "u1", Role: Role("ghost"), FactoryID: "F1", Active: true}
	d := Authorize(p, PermProductsRead, "F1")
	if !d.Denied() || d.Reason != DenyInsufficientPermission {
		t.Fatalf("expected insufficient_permission, got %+v", d)
	}
}
