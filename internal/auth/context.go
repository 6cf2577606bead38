package auth

import "context"

type principalContextKey struct{}
type deviceContextKey struct{}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID string
	Roles  []string
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithDeviceID stores the caller's device identifier in the context.
func ContextWithDeviceID(ctx context.Context, deviceID string) context.Context {
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceContextKey{}, deviceID)
}

// DeviceIDFromContext returns the device identifier if one was attached.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(deviceContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
