package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// PrincipalKey is the context key for the authenticated caller
	PrincipalKey contextKey = "principal"
)

// principalSlotKey holds a *principalSlot installed by RequestLogger. Auth runs
// deeper in the chain on a derived request, so the outer logger can only see
// the caller through this shared slot.
type principalSlotKey struct{}

type principalSlot struct {
	principal *Principal
}

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	Subject string `json:"sub"`
	Method  string `json:"method"` // "static" or "jwt"
	Issuer  string `json:"iss,omitempty"`
}

// GetRequestIDFromContext returns the request ID set by WithRequestID or, failing
// that, by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		return requestID
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetPrincipalFromContext retrieves the authenticated caller from context
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal adds the authenticated caller to the context and reports it to
// an enclosing RequestLogger, if any.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if slot, ok := ctx.Value(principalSlotKey{}).(*principalSlot); ok {
		slot.principal = p
	}
	return context.WithValue(ctx, PrincipalKey, p)
}

func withPrincipalSlot(ctx context.Context) (context.Context, *principalSlot) {
	slot := &principalSlot{}
	return context.WithValue(ctx, principalSlotKey{}, slot), slot
}
