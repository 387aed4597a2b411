package auth

import (
	"context"
	"strings"
)

// Role grants access to the alarm API. Viewers list and stream alarms,
// operators also acknowledge and clear them, admins also reload rules.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole reads a role claim.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// Covers reports whether the role grants everything required does.
func (r Role) Covers(required Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= roleRanks[required]
}

// Identity is the authenticated caller of the alarm API.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
}

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{TenantID: tenantID, Role: role, Subject: subject})
}

// IdentityFrom returns the caller identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantIDFromContext returns the caller tenant, or "" for internal calls.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.TenantID
}

// CheckTenant rejects callers acting on another tenant's alarms. Calls
// without an identity are internal and pass.
func CheckTenant(ctx context.Context, alarmTenantID string) error {
	id, ok := IdentityFrom(ctx)
	if !ok || id.TenantID == "" || id.TenantID == alarmTenantID {
		return nil
	}
	return ErrTenantMismatch
}
