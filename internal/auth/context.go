package auth

import (
	"context"

	"github.com/crudmeter/crudmeter/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// userRefKey is the context key for the gate-authorized user reference.
	userRefKey contextKey = "user_ref"
	// sessionKey is the context key for dashboard session claims.
	sessionKey contextKey = "session_claims"
)

// ContextWithUserRef adds a gate-authorized UserRef to the context.
func ContextWithUserRef(ctx context.Context, ref *model.UserRef) context.Context {
	return context.WithValue(ctx, userRefKey, ref)
}

// UserRefFromContext retrieves the gate-authorized UserRef from the context.
// Returns nil if the request did not pass the credit gate.
func UserRefFromContext(ctx context.Context) *model.UserRef {
	ref, ok := ctx.Value(userRefKey).(*model.UserRef)
	if !ok {
		return nil
	}
	return ref
}

// MustUserRefFromContext retrieves the UserRef from the context.
// Panics if absent (use only behind the gate middleware).
func MustUserRefFromContext(ctx context.Context) *model.UserRef {
	ref := UserRefFromContext(ctx)
	if ref == nil {
		panic("user ref not found - ensure gate middleware is applied")
	}
	return ref
}

// ContextWithSession adds session claims to the context.
func ContextWithSession(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, claims)
}

// SessionFromContext retrieves session claims from the context.
// Returns nil if the request is not session-authenticated.
func SessionFromContext(ctx context.Context) *SessionClaims {
	claims, ok := ctx.Value(sessionKey).(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
