package backend

import "context"

type tokenKey struct{}

// WithToken returns a context carrying the caller's bearer token. Calls made
// with it are authorized as that caller instead of the service account.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	if tok, ok := ctx.Value(tokenKey{}).(string); ok {
		return tok
	}
	return ""
}
