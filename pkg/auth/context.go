package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "claims"

// WithClaims returns a context carrying the given claims. Set by the auth
// middleware after token validation.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves claims placed by the auth middleware.
// Returns nil when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
