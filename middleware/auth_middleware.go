package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hvalfangst/heroes-oauth/entra"
	"github.com/hvalfangst/heroes-oauth/utils"
)

// TokenVerifier verifies bearer tokens. *entra.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*entra.DecodedToken, error)
}

// Authorizer decides scope and role requirements. *entra.Authorizer implements it.
type Authorizer interface {
	Authorize(ctx context.Context, token *entra.DecodedToken, required []string) error
	AuthorizeRoles(ctx context.Context, token *entra.DecodedToken, roles []string) error
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier   TokenVerifier
	authorizer Authorizer
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, authorizer Authorizer, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:   verifier,
		authorizer: authorizer,
		logger:     logger,
	}
}

// RequireAuth is a middleware that requires a valid Entra ID access token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", "Bearer")
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		decoded, err := m.verifier.Verify(ctx, token)
		if err != nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.String("kind", string(entra.KindOf(err))),
				zap.Error(err))
			WriteAuthError(w, err)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("oid", decoded.ObjectID),
			zap.String("azp", decoded.AuthorizedParty))

		next.ServeHTTP(w, r.WithContext(WithToken(ctx, decoded)))
	})
}

// RequireScopes is a middleware that requires every listed delegated scope.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return m.require("scope", scopes, m.authorizer.Authorize)
}

// RequireAnyRole is a middleware that requires at least one of the listed app roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return m.require("role", roles, m.authorizer.AuthorizeRoles)
}

func (m *AuthMiddleware) require(
	what string,
	values []string,
	check func(context.Context, *entra.DecodedToken, []string) error,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			token := TokenFromContext(ctx)
			if token == nil {
				m.logger.Error("token not found in context",
					zap.String("request_id", requestID))
				w.Header().Set("WWW-Authenticate", "Bearer")
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if err := check(ctx, token, values); err != nil {
				m.logger.Warn(what+" check failed",
					zap.String("request_id", requestID),
					zap.String("oid", token.ObjectID),
					zap.Strings("missing_"+what+"s", entra.MissingOf(err)))
				WriteAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthError maps an entra error onto an HTTP response. Only the public
// message for the error kind reaches the caller.
func WriteAuthError(w http.ResponseWriter, err error) {
	kind := entra.KindOf(err)
	msg := entra.PublicMessage(kind)
	details := map[string]interface{}{"reason": string(kind)}

	switch {
	case entra.IsAuthenticationFailure(err):
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, msg))
		_ = utils.WriteError(w, http.StatusUnauthorized, msg, details)

	case entra.IsAuthorizationFailure(err):
		missing := entra.MissingOf(err)
		challenge := `Bearer error="insufficient_scope"`
		if kind == entra.KindInsufficientScope && len(missing) > 0 {
			challenge += fmt.Sprintf(`, scope=%q`, strings.Join(missing, " "))
			details["missing_scopes"] = missing
		} else if len(missing) > 0 {
			details["required_roles"] = missing
		}
		w.Header().Set("WWW-Authenticate", challenge)
		_ = utils.WriteForbidden(w, msg, details)

	case kind == entra.KindUpstreamUnavailable:
		_ = utils.WriteServiceUnavailable(w, msg)

	case kind == entra.KindDiscovery, kind == entra.KindMalformedResponse:
		_ = utils.WriteBadGateway(w, msg)

	default:
		_ = utils.WriteInternalServerError(w, "")
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
