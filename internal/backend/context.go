package backend

import "context"

type tokenContextKey struct{}

// ContextWithToken pins the bearer token for calls made with ctx, bypassing the token reader.
// Logout uses it because storage is already cleared when the server call goes out.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the pinned token, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
