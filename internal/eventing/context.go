package eventing

import "context"

type contextKey string

const (
	contextKeyTenant contextKey = "eventing.tenant_id"
	contextKeyCorr   contextKey = "eventing.correlation_id"
)

// WithTenantID sets tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenantID)
}

// WithCorrelationID sets the id of the inbound event being handled.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// CorrelationIDFromContext returns the correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	corr, _ := ctx.Value(contextKeyCorr).(string)
	return corr
}

// MetaFromContext builds metadata from context with defaults.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := Meta{CorrelationID: CorrelationIDFromContext(ctx)}
	if tenantID, ok := ctx.Value(contextKeyTenant).(string); ok {
		meta.TenantID = tenantID
	}
	if meta.TenantID == "" {
		meta.TenantID = defaultTenantID
	}
	return meta
}
