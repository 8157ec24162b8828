package entra

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies verification and authorization failures
type Kind string

const (
	KindMalformedToken      Kind = "malformed_token"
	KindDisallowedAlgorithm Kind = "disallowed_algorithm"
	KindUnknownKey          Kind = "unknown_key"
	KindKeyConversion       Kind = "key_conversion"
	KindInvalidSignature    Kind = "invalid_signature"
	KindExpiredToken        Kind = "expired_token"
	KindNotYetValid         Kind = "not_yet_valid"
	KindAudienceMismatch    Kind = "audience_mismatch"
	KindIssuerMismatch      Kind = "issuer_mismatch"
	KindMissingClaim        Kind = "missing_claim"
	KindMalformedClaim      Kind = "malformed_claim"
	KindInsufficientScope   Kind = "insufficient_scope"
	KindInsufficientRole    Kind = "insufficient_role"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindDiscovery           Kind = "discovery"
	KindMalformedResponse   Kind = "malformed_response"
)

// Error is the single error type returned by this package
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Missing lists the required scopes or roles that were not granted, in
	// the order they were requested.
	Missing []string
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.Missing) > 0 {
		msg += " [" + strings.Join(e.Missing, " ") + "]"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that errors.Is(err, ErrExpiredToken) holds for any expired token error
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var (
	ErrMalformedToken      = newError(KindMalformedToken, "malformed token", nil)
	ErrDisallowedAlgorithm = newError(KindDisallowedAlgorithm, "signing algorithm not allowed", nil)
	ErrUnknownKey          = newError(KindUnknownKey, "unknown signing key", nil)
	ErrKeyConversion       = newError(KindKeyConversion, "signing key could not be converted", nil)
	ErrInvalidSignature    = newError(KindInvalidSignature, "invalid signature", nil)
	ErrExpiredToken        = newError(KindExpiredToken, "token expired", nil)
	ErrNotYetValid         = newError(KindNotYetValid, "token not yet valid", nil)
	ErrAudienceMismatch    = newError(KindAudienceMismatch, "audience mismatch", nil)
	ErrIssuerMismatch      = newError(KindIssuerMismatch, "issuer mismatch", nil)
	ErrMissingClaim        = newError(KindMissingClaim, "missing required claim", nil)
	ErrMalformedClaim      = newError(KindMalformedClaim, "malformed claim", nil)
	ErrInsufficientScope   = newError(KindInsufficientScope, "insufficient scope", nil)
	ErrInsufficientRole    = newError(KindInsufficientRole, "insufficient role", nil)
	ErrUpstreamUnavailable = newError(KindUpstreamUnavailable, "identity provider unavailable", nil)
	ErrDiscovery           = newError(KindDiscovery, "discovery failed", nil)
	ErrMalformedResponse   = newError(KindMalformedResponse, "malformed identity provider response", nil)
)

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MissingOf returns the ungranted scopes or roles carried by err
func MissingOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Missing
	}
	return nil
}

// IsAuthenticationFailure reports whether err means the caller's identity could not be established
func IsAuthenticationFailure(err error) bool {
	switch KindOf(err) {
	case KindMalformedToken, KindDisallowedAlgorithm, KindUnknownKey, KindKeyConversion,
		KindInvalidSignature, KindExpiredToken, KindNotYetValid, KindAudienceMismatch,
		KindIssuerMismatch, KindMissingClaim, KindMalformedClaim:
		return true
	}
	return false
}

// IsAuthorizationFailure reports whether err is a scope or role denial
func IsAuthorizationFailure(err error) bool {
	switch KindOf(err) {
	case KindInsufficientScope, KindInsufficientRole:
		return true
	}
	return false
}

var publicMessages = map[Kind]string{
	KindMalformedToken:      "Malformed bearer token",
	KindDisallowedAlgorithm: "Token signing algorithm is not accepted",
	KindUnknownKey:          "Token signed with an unknown key",
	KindKeyConversion:       "Token signing key is unusable",
	KindInvalidSignature:    "Invalid token signature",
	KindExpiredToken:        "Token has expired",
	KindNotYetValid:         "Token is not yet valid",
	KindAudienceMismatch:    "Token was not issued for this API",
	KindIssuerMismatch:      "Token issuer is not trusted",
	KindMissingClaim:        "Token is missing a required claim",
	KindMalformedClaim:      "Token contains a malformed claim",
	KindInsufficientScope:   "Insufficient scope",
	KindInsufficientRole:    "Insufficient role",
	KindUpstreamUnavailable: "Identity provider is unavailable",
	KindDiscovery:           "Identity provider discovery failed",
	KindMalformedResponse:   "Identity provider returned an invalid response",
}

// PublicMessage returns the caller-facing text for kind. Details from the
// wrapped error never leave the process.
func PublicMessage(kind Kind) string {
	if msg, ok := publicMessages[kind]; ok {
		return msg
	}
	return "Unauthorized"
}
