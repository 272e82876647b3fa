package shared

import "context"

// TenantID scopes every persisted row to one tenant. Core operations take it
// as an explicit parameter rather than reading ambient state; the context
// carrier below exists only for the HTTP boundary.
type TenantID int64

// Valid reports whether the tenant id is usable.
func (t TenantID) Valid() bool { return t > 0 }

type tenantContextKey struct{}

// ContextWithTenant stores the tenant id in context for transport middleware.
func ContextWithTenant(ctx context.Context, tenant TenantID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts the tenant id set by middleware, zero when absent.
func TenantFromContext(ctx context.Context) TenantID {
	tenant, _ := ctx.Value(tenantContextKey{}).(TenantID)
	return tenant
}

type actorContextKey struct{}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
