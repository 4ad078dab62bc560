package auth

import "context"

// contextKey is an unexported type to prevent collisions with other packages.
type contextKey struct{}

var claimsKey = contextKey{}

// WithClaims stores verified claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFrom retrieves verified claims from the context.
// Returns nil and false when the request carried no valid token.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
