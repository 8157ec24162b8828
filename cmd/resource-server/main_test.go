package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hvalfangst/heroes-oauth/app"
	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/handlers"
	"github.com/hvalfangst/heroes-oauth/routes"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testTenant   = "tenant-123"
	testAudience = "api-client-id"
	testKid      = "key-1"
)

// identityProvider serves discovery and a one-key JWKS for testTenant
type identityProvider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newIdentityProvider(t *testing.T) *identityProvider {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKid))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	require.NoError(t, pub.Set(jwk.KeyUsageKey, "sig"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	idp := &identityProvider{key: priv}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/v2.0/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   idp.issuer(),
			"jwks_uri": idp.server.URL + "/" + testTenant + "/discovery/v2.0/keys",
		})
	})
	mux.HandleFunc("/"+testTenant+"/discovery/v2.0/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *identityProvider) authority() string {
	return p.server.URL + "/" + testTenant
}

func (p *identityProvider) issuer() string {
	return "https://login.microsoftonline.com/" + testTenant + "/v2.0"
}

// token issues an access token for testAudience. mutate may adjust the claims.
func (p *identityProvider) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"aud": testAudience,
		"iss": p.issuer(),
		"iat": now.Add(-time.Minute).Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"oid": "00000000-0000-0000-0000-000000000042",
		"sub": "subject-42",
		"tid": testTenant,
		"ver": "2.0",
		"azp": "client-123",
		"scp": "Heroes.Read",
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func withScopes(scopes string) func(jwt.MapClaims) {
	return func(c jwt.MapClaims) { c["scp"] = scopes }
}

func newTestServer(t *testing.T, idp *identityProvider) *httptest.Server {
	t.Helper()
	cfg := testConfig(idp.authority())
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

const heroBody = `{"id":"h-1","name":"Thorin","race":"Dwarf","class":"Fighter","level":5,"hit_points":44,"armor_class":18,"speed":25}`

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObservabilityConfig
		wantErr bool
	}{
		{"default json logger", config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, false},
		{"development console logger", config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"}, false},
		{"invalid log level", config.ObservabilityConfig{LogLevel: "invalid", LogFormat: "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 9090, ReadTimeout: 3 * time.Second, WriteTimeout: 4 * time.Second}
	srv := newServer(cfg, http.NotFoundHandler())

	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadTimeout)
	assert.Equal(t, 4*time.Second, srv.WriteTimeout)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}
	srv := newServer(cfg, http.NotFoundHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, cfg, zaptest.NewLogger(t)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestPublicEndpoints(t *testing.T) {
	idp := newIdentityProvider(t)
	ts := newTestServer(t, idp)

	t.Run("banner", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), handlers.Banner)
	})

	t.Run("liveness", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"healthy"`)
	})

	t.Run("readiness", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/readyz", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var parsed struct {
			Data handlers.HealthResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &parsed))
		assert.Equal(t, "healthy", parsed.Data.Status)
		assert.Equal(t, "not_configured", parsed.Data.Checks["database"])
		assert.Equal(t, "healthy", parsed.Data.Checks["signing_keys"])
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/nope", "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "endpoint not found")
	})

	t.Run("cors preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/heroes", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestHeroesEndToEnd(t *testing.T) {
	idp := newIdentityProvider(t)
	ts := newTestServer(t, idp)
	heroes := ts.URL + "/api/heroes"

	t.Run("missing token is rejected", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, heroes, "", heroBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token := idp.token(t, func(c jwt.MapClaims) {
			c["iat"] = time.Now().Add(-2 * time.Hour).Unix()
			c["nbf"] = time.Now().Add(-2 * time.Hour).Unix()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
		})
		resp, body := do(t, http.MethodGet, heroes, token, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
		assert.Contains(t, string(body), "expired_token")
	})

	t.Run("token for another audience is rejected", func(t *testing.T) {
		token := idp.token(t, func(c jwt.MapClaims) { c["aud"] = "someone-else" })
		resp, _ := do(t, http.MethodGet, heroes, token, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("read scope cannot create", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, heroes, idp.token(t, withScopes("Heroes.Read")), heroBody)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, `Bearer error="insufficient_scope", scope="Heroes.Write"`, resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("write scope creates", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, heroes, idp.token(t, withScopes("Heroes.Write")), heroBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"class":"Fighter"`)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, heroes, idp.token(t, withScopes("Heroes.Write")), heroBody)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("list and get with read scope", func(t *testing.T) {
		token := idp.token(t, withScopes("Heroes.Read"))

		resp, body := do(t, http.MethodGet, heroes, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"id":"h-1"`)

		resp, body = do(t, http.MethodGet, heroes+"/h-1", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"name":"Thorin"`)

		resp, body = do(t, http.MethodGet, heroes+"/missing", token, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, string(body), "Hero not found")
	})

	t.Run("substring grant lets ReadWrite read", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, heroes, idp.token(t, withScopes("Heroes.ReadWrite")), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("delete requires delete scope", func(t *testing.T) {
		resp, _ := do(t, http.MethodDelete, heroes+"/h-1", idp.token(t, withScopes("Heroes.Read Heroes.Write")), "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, body := do(t, http.MethodDelete, heroes+"/h-1", idp.token(t, withScopes("Heroes.Delete")), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "Hero with id 'h-1' deleted successfully")

		resp, _ = do(t, http.MethodDelete, heroes+"/h-1", idp.token(t, withScopes("Heroes.Delete")), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("verifications are exported as metrics", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "heroes_token_verifications_total")
		assert.Contains(t, string(body), "heroes_scope_decisions_total")
		assert.Contains(t, string(body), "heroes_jwks_refresh_total")
	})
}

func TestAdminKeyRefresh(t *testing.T) {
	idp := newIdentityProvider(t)
	ts := newTestServer(t, idp)
	url := ts.URL + "/api/admin/jwks/refresh"

	t.Run("requires admin role", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, url, idp.token(t, nil), "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin refreshes keys", func(t *testing.T) {
		token := idp.token(t, func(c jwt.MapClaims) { c["roles"] = []string{"Heroes.Admin"} })
		resp, body := do(t, http.MethodPost, url, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var parsed struct {
			Data handlers.KeySetResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &parsed))
		assert.Equal(t, 1, parsed.Data.KeyCount)
		assert.Equal(t, []string{testKid}, parsed.Data.KeyIDs)
		assert.Equal(t, idp.authority()+"/discovery/v2.0/keys", parsed.Data.JWKSURI)
	})
}

func testConfig(authority string) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Entra: config.EntraConfig{
			TenantID:           testTenant,
			Audience:           testAudience,
			Authority:          authority,
			AllowedAlgorithms:  []string{"RS256"},
			JWKSCacheTTL:       time.Hour,
			MinRefreshInterval: time.Minute,
			HTTPTimeout:        5 * time.Second,
			AdminRole:          "Heroes.Admin",
		},
		HeroStore: config.HeroStoreMemory,
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:*"},
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "error",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}
