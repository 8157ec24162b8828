package entra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hvalfangst/heroes-oauth/internal/observability"
)

// KeyResolver returns the verification key for a kid. *Resolver implements it.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (*SigningKey, error)
}

// VerifierConfig configures a Verifier
type VerifierConfig struct {
	Audience          string
	Issuer            string // optional; empty accepts any issuer
	AllowedAlgorithms []string
	Leeway            time.Duration
	Resolver          KeyResolver
	Metrics           observability.Metrics
	Logger            *zap.Logger
}

// Verifier checks bearer tokens issued by Entra ID for a single audience
type Verifier struct {
	audience   string
	issuer     string
	algorithms []string
	allowed    map[string]bool
	leeway     time.Duration
	resolver   KeyResolver
	metrics    observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

type tokenHeader struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// NewVerifier creates a Verifier
func NewVerifier(cfg VerifierConfig) *Verifier {
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = []string{"RS256"}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	allowed := make(map[string]bool, len(cfg.AllowedAlgorithms))
	for _, alg := range cfg.AllowedAlgorithms {
		allowed[alg] = true
	}

	return &Verifier{
		audience:   cfg.Audience,
		issuer:     cfg.Issuer,
		algorithms: cfg.AllowedAlgorithms,
		allowed:    allowed,
		leeway:     cfg.Leeway,
		resolver:   cfg.Resolver,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Verify authenticates raw and returns its claims. Every failure is an *Error.
func (v *Verifier) Verify(ctx context.Context, raw string) (*DecodedToken, error) {
	tok, err := v.verify(ctx, raw)
	if err != nil {
		v.metrics.RecordVerification(string(KindOf(err)))
		v.logger.Debug("token rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}
	v.metrics.RecordVerification("ok")
	return tok, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*DecodedToken, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, newError(KindMalformedToken, fmt.Sprintf("expected 3 segments, got %d", len(segments)), nil)
	}

	header, err := decodeHeader(segments[0])
	if err != nil {
		return nil, err
	}
	if !v.allowed[header.Alg] {
		return nil, newError(KindDisallowedAlgorithm, fmt.Sprintf("alg %q is not accepted", header.Alg), nil)
	}

	key, err := v.resolver.Resolve(ctx, header.Kid)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, newError(KindInvalidSignature,
				fmt.Sprintf("key %q is for %s, token uses %s", key.KeyID, key.Algorithm, t.Method.Alg()), nil)
		}
		if key.Use != "" && key.Use != "sig" {
			return nil, newError(KindInvalidSignature, fmt.Sprintf("key %q is not a signing key", key.KeyID), nil)
		}
		return key.Key, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	aud, err := v.checkAudience(claims)
	if err != nil {
		return nil, err
	}

	tok, err := newDecodedToken(claims, aud)
	if err != nil {
		return nil, err
	}

	if v.issuer != "" && tok.Issuer != v.issuer {
		return nil, newError(KindIssuerMismatch, fmt.Sprintf("issuer %q is not trusted", tok.Issuer), nil)
	}

	return tok, nil
}

func decodeHeader(segment string) (*tokenHeader, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return nil, newError(KindMalformedToken, "header is not base64url", err)
	}
	var h tokenHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, newError(KindMalformedToken, "header is not a JSON object", err)
	}
	if h.Kid == "" {
		return nil, newError(KindMalformedToken, "header has no kid", nil)
	}
	return &h, nil
}

// checkAudience requires aud to be exactly the configured audience, either
// as a string or as a single element list
func (v *Verifier) checkAudience(claims jwt.MapClaims) (string, error) {
	var aud string
	switch val := claims["aud"].(type) {
	case nil:
		return "", newError(KindAudienceMismatch, "token has no audience", nil)
	case string:
		aud = val
	case []interface{}:
		if len(val) != 1 {
			return "", newError(KindAudienceMismatch, fmt.Sprintf("expected a single audience, got %d", len(val)), nil)
		}
		s, ok := val[0].(string)
		if !ok {
			return "", newError(KindMalformedClaim, "aud must contain strings", nil)
		}
		aud = s
	default:
		return "", newError(KindMalformedClaim, fmt.Sprintf("aud must be a string or list, got %T", val), nil)
	}

	if aud != v.audience {
		return "", newError(KindAudienceMismatch, fmt.Sprintf("audience %q does not match", aud), nil)
	}
	return aud, nil
}

func classifyParseError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(KindMalformedToken, "token could not be parsed", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newError(KindInvalidSignature, "signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(KindExpiredToken, "exp is in the past", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return newError(KindNotYetValid, "nbf is in the future", err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return newError(KindNotYetValid, "iat is in the future", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newError(KindMissingClaim, "exp", err)
	case errors.Is(err, jwt.ErrInvalidType):
		return newError(KindMalformedClaim, "registered claim has the wrong type", err)
	}
	return newError(KindInvalidSignature, "token rejected", err)
}
