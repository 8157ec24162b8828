// Package proxy forwards the client's hero requests to the resource server,
// swapping the browser's session cookie for the session's bearer token.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hvalfangst/heroes-oauth/models"
	"github.com/hvalfangst/heroes-oauth/session"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxUpstreamBody = 4 << 20

// TokenSourcer is implemented by *oauth2.Config
type TokenSourcer interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// HeroProxy forwards /api/heroes requests to {BaseURL}/heroes
type HeroProxy struct {
	baseURL  string
	client   *http.Client
	tokens   TokenSourcer
	sessions session.Store
	logger   *zap.Logger
}

// NewHeroProxy creates a proxy for the resource server at baseURL
func NewHeroProxy(baseURL string, timeout time.Duration, tokens TokenSourcer, sessions session.Store, logger *zap.Logger) *HeroProxy {
	return &HeroProxy{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		tokens:   tokens,
		sessions: sessions,
		logger:   logger,
	}
}

// Routes mounts the proxy endpoints on r
func (p *HeroProxy) Routes(r chi.Router) {
	r.Post("/", p.HandleCreate)
	r.Get("/", p.HandleList)
	r.Get("/{id}", p.HandleGet)
	r.Delete("/{id}", p.HandleDelete)
}

// HandleCreate validates the hero locally before forwarding it
func (p *HeroProxy) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var hero models.Hero
	if err := utils.DecodeJSON(r, &hero); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&hero); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", utils.FieldDetails(err))
		return
	}

	body, err := json.Marshal(&hero)
	if err != nil {
		p.logger.Error("failed to encode hero", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to encode hero")
		return
	}
	p.forward(w, r, http.MethodPost, "/heroes", body)
}

// HandleList forwards GET /heroes
func (p *HeroProxy) HandleList(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, http.MethodGet, "/heroes", nil)
}

// HandleGet forwards GET /heroes/{id}
func (p *HeroProxy) HandleGet(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, http.MethodGet, "/heroes/"+url.PathEscape(chi.URLParam(r, "id")), nil)
}

// HandleDelete forwards DELETE /heroes/{id}
func (p *HeroProxy) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, http.MethodDelete, "/heroes/"+url.PathEscape(chi.URLParam(r, "id")), nil)
}

func (p *HeroProxy) forward(w http.ResponseWriter, r *http.Request, method, path string, body []byte) {
	ctx := r.Context()

	token, ok := p.accessToken(w, r)
	if !ok {
		return
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		p.logger.Error("failed to build upstream request", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to build upstream request")
		return
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("upstream request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		_ = utils.WriteBadGateway(w, "Failed to reach the heroes API")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		p.logger.Warn("failed to read upstream response", zap.Error(err))
		_ = utils.WriteBadGateway(w, "Failed to read the heroes API response")
		return
	}

	p.logger.Debug("proxied hero request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if wa := resp.Header.Get("WWW-Authenticate"); wa != "" {
		w.Header().Set("WWW-Authenticate", wa)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// accessToken loads the caller's session and returns a valid access token,
// refreshing and persisting it when it has expired. It writes the error
// response itself when it returns false.
func (p *HeroProxy) accessToken(w http.ResponseWriter, r *http.Request) (*oauth2.Token, bool) {
	ctx := r.Context()

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		_ = utils.WriteUnauthorized(w, "Not logged in")
		return nil, false
	}

	sess, err := p.sessions.Get(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			_ = utils.WriteUnauthorized(w, "Session not found or expired")
			return nil, false
		}
		p.logger.Error("failed to load session", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to load session")
		return nil, false
	}

	current := sess.Token()
	token, err := p.tokens.TokenSource(ctx, current).Token()
	if err != nil {
		p.logger.Warn("token refresh failed", zap.String("sub", sess.Subject), zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Session expired, please re-authenticate")
		return nil, false
	}

	if token.AccessToken != current.AccessToken {
		sess.SetToken(token)
		if err := p.sessions.Update(ctx, cookie.Value, sess); err != nil {
			p.logger.Error("failed to persist refreshed token", zap.Error(err))
		} else {
			p.logger.Info("access token refreshed", zap.String("sub", sess.Subject))
		}
	}
	return token, true
}
