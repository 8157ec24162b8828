package middleware

import (
	"context"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hvalfangst/heroes-oauth/entra"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// TokenKey is the context key for the verified access token
	TokenKey contextKey = "token"
)

// RequestID copies the id assigned by chi's RequestID middleware into RequestIDKey
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// TokenFromContext retrieves the verified token from context
func TokenFromContext(ctx context.Context) *entra.DecodedToken {
	if val := ctx.Value(TokenKey); val != nil {
		if token, ok := val.(*entra.DecodedToken); ok {
			return token
		}
	}
	return nil
}

// WithToken adds a verified token to the context
func WithToken(ctx context.Context, token *entra.DecodedToken) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}
