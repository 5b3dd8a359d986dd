package api

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey int

const (
	contextKeyClaims contextKey = iota
	contextKeyRequestID
)

// SetClaimsContext returns a new context with the token claims attached.
func SetClaimsContext(ctx context.Context, c jwt.MapClaims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, c)
}

// ClaimsFromContext extracts the authenticated claims from context, or nil.
func ClaimsFromContext(ctx context.Context) jwt.MapClaims {
	c, _ := ctx.Value(contextKeyClaims).(jwt.MapClaims)
	return c
}

// Subject returns the sub claim of the authenticated caller.
func Subject(ctx context.Context) string {
	sub, _ := ClaimsFromContext(ctx)["sub"].(string)
	return sub
}

// SetRequestID returns a new context with the request ID attached.
func SetRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(contextKeyRequestID).(uuid.UUID)
	return id
}
