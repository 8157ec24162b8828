package entra

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testTenant   = "tenant-123"
	testAudience = "api://heroes"
)

type testKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func newTestKey(t *testing.T, kid string) *testKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &testKey{kid: kid, priv: priv}
}

// publicJWK builds the JWK the identity provider would publish for k
func (k *testKey) publicJWK(t *testing.T) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(&k.priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, k.kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
	return key
}

func (k *testKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return signWith(t, jwt.SigningMethodRS256, k.kid, k.priv, claims)
}

func signWith(t *testing.T, method jwt.SigningMethod, kid string, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func ecJWK(t *testing.T, kid string) jwk.Key {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	return key
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"aud":                testAudience,
		"iss":                "https://login.microsoftonline.com/" + testTenant + "/v2.0",
		"iat":                now.Add(-time.Minute).Unix(),
		"nbf":                now.Add(-time.Minute).Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"oid":                "00000000-0000-0000-0000-000000000001",
		"sub":                "subject-1",
		"tid":                testTenant,
		"ver":                "2.0",
		"azp":                "client-app",
		"name":               "Ola Nordmann",
		"preferred_username": "ola@example.com",
		"scp":                "Heroes.Read Heroes.Write",
	}
}

// fakeIdP serves OIDC discovery and a JWKS document for a single tenant
type fakeIdP struct {
	server *httptest.Server

	mu              sync.Mutex
	keys            []jwk.Key
	rawJWKS         []byte
	discoveryStatus int
	noJWKSURI       bool
	gate            chan struct{}

	discoveryHits atomic.Int32
	jwksHits      atomic.Int32
}

func newFakeIdP(t *testing.T, keys ...jwk.Key) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{keys: keys}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/v2.0/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		idp.discoveryHits.Add(1)

		idp.mu.Lock()
		status, noURI, gate := idp.discoveryStatus, idp.noJWKSURI, idp.gate
		idp.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}

		doc := map[string]string{"issuer": "https://login.microsoftonline.com/" + testTenant + "/v2.0"}
		if !noURI {
			doc["jwks_uri"] = idp.server.URL + "/" + testTenant + "/discovery/v2.0/keys"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/"+testTenant+"/discovery/v2.0/keys", func(w http.ResponseWriter, r *http.Request) {
		idp.jwksHits.Add(1)

		idp.mu.Lock()
		defer idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if idp.rawJWKS != nil {
			w.Write(idp.rawJWKS)
			return
		}
		set := jwk.NewSet()
		for _, k := range idp.keys {
			if err := set.AddKey(k); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		json.NewEncoder(w).Encode(set)
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *fakeIdP) authority() string {
	return p.server.URL + "/" + testTenant
}

func (p *fakeIdP) setKeys(keys ...jwk.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = keys
	p.rawJWKS = nil
}

func (p *fakeIdP) setRawJWKS(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rawJWKS = []byte(body)
}

func (p *fakeIdP) setDiscoveryStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryStatus = status
}

type testStack struct {
	fetcher  *Fetcher
	resolver *Resolver
	verifier *Verifier
}

func newTestStack(t *testing.T, idp *fakeIdP, mutate ...func(*VerifierConfig)) *testStack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fetcher := NewFetcher(FetcherConfig{
		Authority: idp.authority(),
		Timeout:   5 * time.Second,
		CacheTTL:  time.Hour,
		Logger:    logger,
	})
	resolver := NewResolver(ResolverConfig{
		Source:             fetcher,
		MinRefreshInterval: time.Minute,
		Logger:             logger,
	})

	cfg := VerifierConfig{
		Audience:          testAudience,
		AllowedAlgorithms: []string{"RS256"},
		Resolver:          resolver,
		Logger:            logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	return &testStack{
		fetcher:  fetcher,
		resolver: resolver,
		verifier: NewVerifier(cfg),
	}
}
