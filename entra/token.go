package entra

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodedToken holds the claims of a verified Entra ID access token.
// Values are only produced by Verifier.Verify after the signature and
// registered claims have been checked.
type DecodedToken struct {
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	NotBefore time.Time // zero when the token carries no nbf
	ExpiresAt time.Time

	ObjectID string // oid
	Subject  string // sub
	TenantID string // tid
	Version  string // ver

	AIO                string // aio
	AuthorizedParty    string // azp
	AuthorizedPartyACR string // azpacr
	RH                 string // rh
	UTI                string // uti
	Name               string
	PreferredUsername  string

	Roles []string
	Scope string
	Scp   []string
}

// EffectiveScopes returns the delegated scopes granted by the token: scp when
// present, otherwise the space separated scope claim, otherwise none.
func (t *DecodedToken) EffectiveScopes() []string {
	if len(t.Scp) > 0 {
		out := make([]string, len(t.Scp))
		copy(out, t.Scp)
		return out
	}
	if t.Scope != "" {
		return strings.Fields(t.Scope)
	}
	return []string{}
}

// HasAnyRole reports whether the token carries at least one of roles
func (t *DecodedToken) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range t.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// newDecodedToken maps verified claims onto a DecodedToken. Audience and
// issuer pinning are checked by the caller.
func newDecodedToken(claims jwt.MapClaims, audience string) (*DecodedToken, error) {
	iss, err := requiredString(claims, "iss")
	if err != nil {
		return nil, err
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, newError(KindMalformedClaim, "iat is not a numeric date", err)
	}
	if iat == nil {
		return nil, newError(KindMissingClaim, "iat", nil)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, newError(KindMalformedClaim, "exp is not a numeric date", err)
	}
	if exp == nil {
		return nil, newError(KindMissingClaim, "exp", nil)
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, newError(KindMalformedClaim, "nbf is not a numeric date", err)
	}

	tok := &DecodedToken{
		Issuer:    iss,
		Audience:  audience,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}
	if nbf != nil {
		tok.NotBefore = nbf.Time
	}

	required := []struct {
		claim string
		dst   *string
	}{
		{"oid", &tok.ObjectID},
		{"sub", &tok.Subject},
		{"tid", &tok.TenantID},
		{"ver", &tok.Version},
	}
	for _, r := range required {
		if *r.dst, err = requiredString(claims, r.claim); err != nil {
			return nil, err
		}
	}

	optional := []struct {
		claim string
		dst   *string
	}{
		{"aio", &tok.AIO},
		{"azp", &tok.AuthorizedParty},
		{"azpacr", &tok.AuthorizedPartyACR},
		{"rh", &tok.RH},
		{"uti", &tok.UTI},
		{"name", &tok.Name},
		{"preferred_username", &tok.PreferredUsername},
		{"scope", &tok.Scope},
	}
	for _, o := range optional {
		if *o.dst, err = optionalString(claims, o.claim); err != nil {
			return nil, err
		}
	}

	if tok.Scp, err = scopeList(claims, "scp"); err != nil {
		return nil, err
	}
	if tok.Roles, err = stringList(claims, "roles"); err != nil {
		return nil, err
	}

	return tok, nil
}

func requiredString(claims jwt.MapClaims, name string) (string, error) {
	v, err := optionalString(claims, name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", newError(KindMissingClaim, name, nil)
	}
	return v, nil
}

func optionalString(claims jwt.MapClaims, name string) (string, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", newError(KindMalformedClaim, fmt.Sprintf("%s must be a string, got %T", name, raw), nil)
	}
	return s, nil
}

// scopeList accepts either a space separated string or a list of strings
func scopeList(claims jwt.MapClaims, name string) ([]string, error) {
	if s, ok := claims[name].(string); ok {
		return strings.Fields(s), nil
	}
	return stringList(claims, name)
}

func stringList(claims jwt.MapClaims, name string) ([]string, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, newError(KindMalformedClaim, fmt.Sprintf("%s must be a list, got %T", name, raw), nil)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, newError(KindMalformedClaim, fmt.Sprintf("%s must contain only strings", name), nil)
		}
		out = append(out, s)
	}
	return out, nil
}
