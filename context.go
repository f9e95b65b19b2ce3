package keyrail

import "context"

type clientIPContextKey struct{}
type orgIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records it
// in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithOrgID attaches an organization scope to ctx. Authorize probes this
// scope before the credential's own organization.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDContextKey{}, orgID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func orgIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	orgID, _ := ctx.Value(orgIDContextKey{}).(string)
	return orgID, orgID != ""
}
