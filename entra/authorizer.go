package entra

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hvalfangst/heroes-oauth/internal/observability"
)

// Authorizer decides whether a verified token may perform an operation
type Authorizer struct {
	metrics observability.Metrics
	logger  *zap.Logger
}

// NewAuthorizer creates an Authorizer
func NewAuthorizer(metrics observability.Metrics, logger *zap.Logger) *Authorizer {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{metrics: metrics, logger: logger}
}

// Grants reports whether a single token scope satisfies a required scope.
//
// This is a substring test, not equality: "Heroes.ReadWrite" grants
// "Heroes.Read". Scope names must be registered with that in mind.
func Grants(tokenScope, required string) bool {
	return strings.Contains(tokenScope, required)
}

// Authorize succeeds when every required scope is granted by at least one of
// the token's effective scopes. Otherwise it returns an insufficient_scope
// *Error listing the missing scopes in request order.
func (a *Authorizer) Authorize(ctx context.Context, token *DecodedToken, required []string) error {
	if token == nil {
		return newError(KindMalformedToken, "no verified token", nil)
	}

	scopes := token.EffectiveScopes()
	var missing []string
	for _, req := range required {
		granted := false
		for _, s := range scopes {
			if Grants(s, req) {
				granted = true
				break
			}
		}
		if !granted {
			missing = append(missing, req)
		}
	}

	if len(missing) > 0 {
		a.metrics.RecordScopeDecision("deny")
		a.logger.Info("scope check denied",
			zap.String("oid", token.ObjectID),
			zap.Strings("required_scopes", required),
			zap.Strings("token_scopes", scopes),
			zap.Strings("missing_scopes", missing),
		)
		e := newError(KindInsufficientScope, "token lacks required scopes", nil)
		e.Missing = missing
		return e
	}

	a.metrics.RecordScopeDecision("allow")
	a.logger.Debug("scope check allowed",
		zap.String("oid", token.ObjectID),
		zap.Strings("required_scopes", required),
	)
	return nil
}

// AuthorizeRoles succeeds when the token carries at least one of roles
func (a *Authorizer) AuthorizeRoles(ctx context.Context, token *DecodedToken, roles []string) error {
	if token == nil {
		return newError(KindMalformedToken, "no verified token", nil)
	}

	if len(roles) == 0 || token.HasAnyRole(roles...) {
		a.metrics.RecordScopeDecision("role_allow")
		return nil
	}

	a.metrics.RecordScopeDecision("role_deny")
	a.logger.Info("role check denied",
		zap.String("oid", token.ObjectID),
		zap.Strings("required_roles", roles),
		zap.Strings("token_roles", token.Roles),
	)
	e := newError(KindInsufficientRole, "token lacks a required role", nil)
	e.Missing = roles
	return e
}
