package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://login.microsoftonline.com/tenant-123/v2.0"
	testClientID = "client-123"
)

type idp struct {
	key       *rsa.PrivateKey
	server    *httptest.Server
	idToken   string
	failToken bool
	forms     []url.Values
}

func newIDP(t *testing.T) *idp {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &idp{key: key}
	p.idToken = p.signIDToken(t, testIssuer, testClientID)

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		p.forms = append(p.forms, r.PostForm)
		if p.failToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-abc",
			"refresh_token": "refresh-abc",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "api://heroes/Heroes.Read api://heroes/Heroes.Write",
			"id_token":      p.idToken,
		})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *idp) signIDToken(t *testing.T, issuer, audience string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":  issuer,
		"aud":  audience,
		"sub":  "subject-42",
		"name": "Ada Lovelace",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func (p *idp) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8000/auth/callback",
		Scopes:       []string{"openid", "api://heroes/Heroes.Read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://login.microsoftonline.com/tenant-123/oauth2/v2.0/authorize",
			TokenURL:  p.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (p *idp) verifier() *oidc.IDTokenVerifier {
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&p.key.PublicKey}}
	return oidc.NewVerifier(testIssuer, keys, &oidc.Config{ClientID: testClientID})
}

type failingStore struct{ session.Store }

func (failingStore) Create(_ context.Context, _ *session.Session) (string, error) {
	return "", errors.New("redis down")
}

func newHandler(p *idp, store session.Store) *Handler {
	return NewHandler(p.oauthConfig(), p.verifier(), store,
		CookieConfig{MaxAge: time.Hour}, []string{"api://heroes/Heroes.Read"}, zap.NewNop())
}

func callbackRequest(code, state, cookieState string) *http.Request {
	target := "/auth/callback?" + url.Values{"code": {code}, "state": {state}}.Encode()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: StateCookieName, Value: cookieState})
	}
	return req
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandleLogin(t *testing.T) {
	p := newIDP(t)
	h := newHandler(p, session.NewMemoryStore(time.Hour))

	w := httptest.NewRecorder()
	h.HandleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusFound, w.Code)

	state := findCookie(w, StateCookieName)
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/tenant-123/oauth2/v2.0/authorize", location.Path)

	q := location.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, state.Value, q.Get("state"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestHandleCallback_Success(t *testing.T) {
	p := newIDP(t)
	store := session.NewMemoryStore(time.Hour)
	h := newHandler(p, store)

	w := httptest.NewRecorder()
	h.HandleCallback(w, callbackRequest("code-1", "state-1", "state-1"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Data LoginResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "subject-42", response.Data.Subject)
	assert.Equal(t, "Ada Lovelace", response.Data.Name)
	assert.Equal(t, []string{"api://heroes/Heroes.Read", "api://heroes/Heroes.Write"}, response.Data.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), response.Data.ExpiresAt, time.Minute)
	assert.NotContains(t, w.Body.String(), "access-abc")

	cookie := findCookie(w, session.CookieName)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	stored, err := store.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "access-abc", stored.AccessToken)
	assert.Equal(t, "refresh-abc", stored.RefreshToken)
	assert.Equal(t, "subject-42", stored.Subject)

	require.Len(t, p.forms, 1)
	assert.Equal(t, "authorization_code", p.forms[0].Get("grant_type"))
	assert.Equal(t, "code-1", p.forms[0].Get("code"))
	assert.Equal(t, "secret", p.forms[0].Get("client_secret"))
}

func TestHandleCallback_Failures(t *testing.T) {
	tests := []struct {
		name           string
		req            func(p *idp) *http.Request
		setup          func(t *testing.T, p *idp)
		store          session.Store
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing code",
			req:            func(*idp) *http.Request { return callbackRequest("", "s", "s") },
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Authorization code not found",
		},
		{
			name: "provider error",
			req: func(*idp) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "access_denied",
		},
		{
			name:           "state mismatch",
			req:            func(*idp) *http.Request { return callbackRequest("code", "s1", "s2") },
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid or expired state",
		},
		{
			name:           "missing state cookie",
			req:            func(*idp) *http.Request { return callbackRequest("code", "s1", "") },
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "token endpoint rejects code",
			req:            func(*idp) *http.Request { return callbackRequest("code", "s", "s") },
			setup:          func(_ *testing.T, p *idp) { p.failToken = true },
			expectedStatus: http.StatusBadGateway,
		},
		{
			name: "id token for another client",
			req:  func(*idp) *http.Request { return callbackRequest("code", "s", "s") },
			setup: func(t *testing.T, p *idp) {
				p.idToken = p.signIDToken(t, testIssuer, "someone-else")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "id token from another issuer",
			req:  func(*idp) *http.Request { return callbackRequest("code", "s", "s") },
			setup: func(t *testing.T, p *idp) {
				p.idToken = p.signIDToken(t, "https://evil.example.com/v2.0", testClientID)
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "session store failure",
			req:            func(*idp) *http.Request { return callbackRequest("code", "s", "s") },
			store:          failingStore{},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newIDP(t)
			if tt.setup != nil {
				tt.setup(t, p)
			}
			store := tt.store
			if store == nil {
				store = session.NewMemoryStore(time.Hour)
			}
			h := newHandler(p, store)

			w := httptest.NewRecorder()
			h.HandleCallback(w, tt.req(p))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
			assert.Nil(t, findCookie(w, session.CookieName))
		})
	}
}

func TestNewOAuth2Config(t *testing.T) {
	cfg := &config.OAuthConfig{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8000/auth/callback",
		Scopes:       []string{"api://heroes/Heroes.Read"},
		Authority:    "https://login.microsoftonline.com/tenant-123",
	}

	oc := NewOAuth2Config(cfg)
	assert.Equal(t, []string{"openid", "api://heroes/Heroes.Read"}, oc.Scopes)
	assert.Equal(t, "https://login.microsoftonline.com/tenant-123/oauth2/v2.0/token", oc.Endpoint.TokenURL)
	assert.Equal(t, oauth2.AuthStyleInParams, oc.Endpoint.AuthStyle)

	cfg.Scopes = []string{"openid", "profile"}
	assert.Equal(t, []string{"openid", "profile"}, NewOAuth2Config(cfg).Scopes)
}

func TestOpenBrowser(t *testing.T) {
	var opened string
	orig := openURL
	openURL = func(u string) error {
		opened = u
		return nil
	}
	t.Cleanup(func() { openURL = orig })

	require.NoError(t, OpenBrowser("http://localhost:8000/auth/login"))
	assert.Equal(t, "http://localhost:8000/auth/login", opened)
}
