package app

import (
	"context"
	"fmt"

	"github.com/hvalfangst/heroes-oauth/auth"
	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/proxy"
	"github.com/hvalfangst/heroes-oauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientDependencies holds everything the client application needs
type ClientDependencies struct {
	Config *config.ClientConfig
	Logger *zap.Logger

	Redis    *redis.Client // nil unless SESSION_STORE=redis
	Sessions session.Store

	AuthHandler *auth.Handler
	HeroProxy   *proxy.HeroProxy
}

// NewClientDependencies wires the login flow, the session store and the hero proxy
func NewClientDependencies(ctx context.Context, cfg *config.ClientConfig, logger *zap.Logger) (*ClientDependencies, error) {
	deps := &ClientDependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initSessions(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	oauthConfig := auth.NewOAuth2Config(&cfg.OAuth)
	verifier := auth.NewIDTokenVerifier(ctx, &cfg.OAuth)

	deps.AuthHandler = auth.NewHandler(oauthConfig, verifier, deps.Sessions,
		auth.CookieConfig{Secure: cfg.OAuth.SecureCookies(), MaxAge: cfg.Session.TTL},
		cfg.OAuth.Scopes, logger)
	deps.HeroProxy = proxy.NewHeroProxy(cfg.API.BaseURL, cfg.API.Timeout, oauthConfig, deps.Sessions, logger)

	logger.Info("client dependencies initialized",
		zap.String("session_store", cfg.Session.Store),
		zap.String("api_url", cfg.API.BaseURL))
	return deps, nil
}

func (d *ClientDependencies) initSessions(ctx context.Context, cfg *config.ClientConfig) error {
	if cfg.Session.Store != config.SessionStoreRedis {
		d.Sessions = session.NewMemoryStore(cfg.Session.TTL)
		return nil
	}

	client, err := session.NewRedisClient(ctx, cfg.Session.RedisURL)
	if err != nil {
		return err
	}
	d.Redis = client
	d.Sessions = session.NewRedisStore(client, session.DefaultKeyPrefix, cfg.Session.TTL)
	return nil
}

// Close releases the session backend
func (d *ClientDependencies) Close(ctx context.Context) error {
	var err error
	if d.Redis != nil {
		if err = d.Redis.Close(); err != nil {
			err = fmt.Errorf("failed to close redis: %w", err)
		}
		d.Redis = nil
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
	return err
}
