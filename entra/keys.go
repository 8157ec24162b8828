package entra

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
)

const defaultMinRefreshInterval = time.Minute

// SigningKey is an RSA verification key published by the identity provider
type SigningKey struct {
	KeyID     string
	Algorithm string // empty when the JWK does not pin one
	KeyType   string
	Use       string
	Key       *rsa.PublicKey
}

// KeySet is an immutable snapshot of the tenant's signing keys
type KeySet struct {
	JWKSURI   string
	FetchedAt time.Time
	ExpiresAt time.Time

	keys    map[string]*SigningKey
	invalid map[string]error
}

// Key returns the signing key for kid
func (s *KeySet) Key(kid string) (*SigningKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of usable keys
func (s *KeySet) Len() int {
	return len(s.keys)
}

// KeyIDs returns the usable key ids in sorted order
func (s *KeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// lookup distinguishes a kid that was published but unusable from one that is absent
func (s *KeySet) lookup(kid string) (*SigningKey, error) {
	if k, ok := s.keys[kid]; ok {
		return k, nil
	}
	if err, ok := s.invalid[kid]; ok {
		return nil, newError(KindKeyConversion, fmt.Sprintf("key %q could not be converted", kid), err)
	}
	return nil, nil
}

func buildKeySet(jwksURI string, raws []json.RawMessage, fetchedAt, expiresAt time.Time, logger *zap.Logger) *KeySet {
	ks := &KeySet{
		JWKSURI:   jwksURI,
		FetchedAt: fetchedAt,
		ExpiresAt: expiresAt,
		keys:      make(map[string]*SigningKey, len(raws)),
		invalid:   make(map[string]error),
	}

	for _, raw := range raws {
		var head struct {
			Kid string `json:"kid"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Kid == "" {
			logger.Debug("skipping JWK without kid")
			continue
		}

		key, err := parseSigningKey(raw)
		if err != nil {
			logger.Warn("unusable JWK", zap.String("kid", head.Kid), zap.Error(err))
			ks.invalid[head.Kid] = err
			continue
		}
		ks.keys[head.Kid] = key
	}

	return ks
}

func parseSigningKey(raw json.RawMessage) (*SigningKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWK: %w", err)
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("failed to extract public key: %w", err)
	}

	pub, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA public key, got %T", rawKey)
	}

	sk := &SigningKey{
		KeyID:   key.KeyID(),
		KeyType: key.KeyType().String(),
		Use:     key.KeyUsage(),
		Key:     pub,
	}
	if alg := key.Algorithm(); alg != nil {
		sk.Algorithm = alg.String()
	}
	return sk, nil
}

// KeySource supplies KeySet snapshots. *Fetcher implements it.
type KeySource interface {
	SigningKeys(ctx context.Context) (*KeySet, error)
	Refresh(ctx context.Context) (*KeySet, error)
}

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	Source             KeySource
	MinRefreshInterval time.Duration
	Logger             *zap.Logger
}

// Resolver maps a token's kid to a signing key, refetching at most once per
// lookup when the kid is unknown
type Resolver struct {
	source     KeySource
	minRefresh time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewResolver creates a Resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = defaultMinRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		source:     cfg.Source,
		minRefresh: cfg.MinRefreshInterval,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Resolve returns the signing key for kid
func (r *Resolver) Resolve(ctx context.Context, kid string) (*SigningKey, error) {
	ks, err := r.source.SigningKeys(ctx)
	if err != nil {
		return nil, upstreamUnavailable(err)
	}

	key, err := ks.lookup(kid)
	if err != nil || key != nil {
		return key, err
	}

	// Unknown kid: the tenant may have rotated keys. Snapshots younger than
	// minRefresh are trusted so that forged kids cannot force refetches.
	if r.now().Sub(ks.FetchedAt) < r.minRefresh {
		return nil, newError(KindUnknownKey, fmt.Sprintf("no key with kid %q", kid), nil)
	}

	r.logger.Info("unknown kid, refreshing signing keys", zap.String("kid", kid))
	ks, err = r.source.Refresh(ctx)
	if err != nil {
		return nil, upstreamUnavailable(err)
	}

	key, err = ks.lookup(kid)
	if err != nil || key != nil {
		return key, err
	}
	return nil, newError(KindUnknownKey, fmt.Sprintf("no key with kid %q after refresh", kid), nil)
}

func upstreamUnavailable(err error) error {
	return newError(KindUpstreamUnavailable, "signing keys unavailable", err)
}
