package core

import "context"

type contextKey string

const ctxKeyRemoteIP contextKey = "run_remote_ip"

// ContextWithRemoteIP adds the caller's IP address to the context so
// triggered runs can record who started them.
func ContextWithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyRemoteIP, ip)
}

// RemoteIPFromContext extracts the caller's IP address from the context.
func RemoteIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRemoteIP).(string); ok {
		return v
	}
	return ""
}
