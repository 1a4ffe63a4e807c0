package shared

import "context"

// Tenant identifies the organization (and acting user) behind a request.
type Tenant struct {
	OrganizationID int64
	Domain         string
	ActorID        int64
}

type tenantContextKey struct{}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts the tenant from context.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(Tenant)
	return tenant, ok && tenant.OrganizationID > 0
}

// RequireTenant is TenantFromContext returning ErrTenantMissing when absent.
func RequireTenant(ctx context.Context) (Tenant, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return Tenant{}, ErrTenantMissing
	}
	return tenant, nil
}
