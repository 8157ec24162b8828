// Package auth implements the client side of the authorization code flow
// against Microsoft Entra ID.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/session"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName   = "oauth_state"
	stateCookieMaxAge = 600
)

// OAuth2Config is the part of *oauth2.Config the handler drives
type OAuth2Config interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// IDTokenVerifier is implemented by *oidc.IDTokenVerifier
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// CookieConfig controls the cookies the handler sets
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// LoginResponse is returned from a successful callback
type LoginResponse struct {
	Subject   string    `json:"subject"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
}

type idTokenClaims struct {
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// Handler handles the login redirect and the authorization code callback
type Handler struct {
	oauth    OAuth2Config
	verifier IDTokenVerifier
	sessions session.Store
	cookies  CookieConfig
	scopes   []string
	logger   *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(oauth OAuth2Config, verifier IDTokenVerifier, sessions session.Store, cookies CookieConfig, scopes []string, logger *zap.Logger) *Handler {
	return &Handler{
		oauth:    oauth,
		verifier: verifier,
		sessions: sessions,
		cookies:  cookies,
		scopes:   scopes,
		logger:   logger,
	}
}

// NewOAuth2Config builds the confidential client registration for the tenant's v2.0 endpoints
func NewOAuth2Config(cfg *config.OAuthConfig) *oauth2.Config {
	scopes := cfg.Scopes
	if !containsScope(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL(),
			TokenURL:  cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewIDTokenVerifier verifies ID tokens against the tenant's published keys.
// Keys are fetched lazily on first use.
func NewIDTokenVerifier(ctx context.Context, cfg *config.OAuthConfig) *oidc.IDTokenVerifier {
	keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL())
	return oidc.NewVerifier(cfg.IssuerURL(), keySet, &oidc.Config{ClientID: cfg.ClientID})
}

// HandleLogin redirects the browser to the Entra ID authorize endpoint
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := h.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
	h.logger.Info("redirecting to identity provider")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback exchanges the authorization code for tokens, verifies the
// ID token and opens a session
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		h.logger.Warn("identity provider returned an error",
			zap.String("error", errCode),
			zap.String("error_description", query.Get("error_description")))
		_ = utils.WriteBadRequest(w, "Authorization failed: "+errCode, nil)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.logger.Warn("authorization code not found in callback")
		_ = utils.WriteBadRequest(w, "Authorization code not found", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || query.Get("state") == "" || stateCookie.Value != query.Get("state") {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		_ = utils.WriteBadGateway(w, "Token exchange failed")
		return
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		h.logger.Warn("token response did not include an id_token")
		_ = utils.WriteBadGateway(w, "ID token not found in token response")
		return
	}

	idToken, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		h.logger.Warn("id token verification failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid ID token")
		return
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		h.logger.Warn("failed to decode id token claims", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid ID token")
		return
	}
	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	scopes := h.scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}

	sess := &session.Session{
		IDToken: rawIDToken,
		Subject: idToken.Subject,
		Name:    name,
		Scopes:  scopes,
	}
	sess.SetToken(token)

	id, err := h.sessions.Create(ctx, sess)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cookies.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("login completed",
		zap.String("sub", idToken.Subject),
		zap.Time("expires_at", token.Expiry))

	_ = utils.WriteOK(w, LoginResponse{
		Subject:   idToken.Subject,
		Name:      name,
		ExpiresAt: token.Expiry,
		Scopes:    scopes,
	})
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
