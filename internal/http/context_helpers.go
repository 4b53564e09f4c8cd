package httpx

import "context"

// clientKey is an unexported context key type to avoid collisions across packages.
type clientKey struct{}

// SetClientInContext returns a child context that carries the authenticated API client name.
// If name is empty, the original ctx is returned unchanged.
func SetClientInContext(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKey{}, name)
}

// ClientFromContext returns the API client name and whether one was set.
func ClientFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(clientKey{}).(string)
	return name, ok && name != ""
}

// actorFromContext names the caller in audit entries.
func actorFromContext(ctx context.Context) string {
	if name, ok := ClientFromContext(ctx); ok {
		return name
	}
	return "api"
}
