package tenancy

import "context"

type ctxKey string

const (
	tenantKey  ctxKey = "concierge.tenant_id"
	requestKey ctxKey = "concierge.request_id"
)

// WithTenantID stores the active tenant id in context. The tool gateway
// compares every call's envelope against this value.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, tenantKey)
}

// WithRequestID stores the per-turn request id in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
