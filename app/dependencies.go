package app

import (
	"context"
	"fmt"

	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/entra"
	"github.com/hvalfangst/heroes-oauth/handlers"
	"github.com/hvalfangst/heroes-oauth/internal/observability"
	"github.com/hvalfangst/heroes-oauth/middleware"
	"github.com/hvalfangst/heroes-oauth/repositories"
	"github.com/hvalfangst/heroes-oauth/repositories/memory"
	"github.com/hvalfangst/heroes-oauth/repositories/postgres"
	"github.com/hvalfangst/heroes-oauth/services/heroes"
	"go.uber.org/zap"
)

// Dependencies holds everything the resource server needs.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics // nil when metrics are disabled

	// Repository Factory, only set for the postgres store
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB

	// Repositories
	Heroes repositories.HeroRepository

	// Token verification chain
	Keys       *entra.Fetcher
	Verifier   *entra.Verifier
	Authorizer *entra.Authorizer

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	HeroHandler    *handlers.HeroHandler
	HealthHandler  *handlers.HealthHandler
	AdminHandler   *handlers.AdminHandler
}

// NewDependencies creates and wires up all resource server dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initHeroStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize hero store: %w", err)
	}

	deps.initAuth(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.String("hero_store", cfg.HeroStore),
		zap.Bool("metrics_enabled", cfg.Observability.MetricsEnabled))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.Prometheus = observability.NewPrometheusMetrics()
	d.Metrics = d.Prometheus
}

// initHeroStore selects the hero backend. The postgres store gets its schema created on startup.
func (d *Dependencies) initHeroStore(ctx context.Context, cfg *config.Config) error {
	if cfg.HeroStore != config.HeroStorePostgres {
		d.Heroes = memory.NewHeroRepository(d.Logger)
		if cfg.IsProduction() {
			d.Logger.Warn("in-memory hero store in production, heroes are lost on restart")
		} else {
			d.Logger.Info("using in-memory hero store")
		}
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Heroes = factory.NewRepositories().Heroes

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.Keys = entra.NewFetcher(entra.FetcherConfig{
		Authority: cfg.Entra.Authority,
		Timeout:   cfg.Entra.HTTPTimeout,
		CacheTTL:  cfg.Entra.JWKSCacheTTL,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	})

	resolver := entra.NewResolver(entra.ResolverConfig{
		Source:             d.Keys,
		MinRefreshInterval: cfg.Entra.MinRefreshInterval,
		Logger:             d.Logger,
	})

	d.Verifier = entra.NewVerifier(entra.VerifierConfig{
		Audience:          cfg.Entra.Audience,
		Issuer:            cfg.Entra.Issuer,
		AllowedAlgorithms: cfg.Entra.AllowedAlgorithms,
		Leeway:            cfg.Entra.ClockSkew,
		Resolver:          resolver,
		Metrics:           d.Metrics,
		Logger:            d.Logger,
	})

	d.Authorizer = entra.NewAuthorizer(d.Metrics, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Authorizer, d.Logger)

	d.Logger.Info("token verification initialized",
		zap.String("authority", cfg.Entra.Authority),
		zap.Strings("algorithms", cfg.Entra.AllowedAlgorithms))
}

func (d *Dependencies) initHandlers() {
	// a nil *postgres.DB must not become a non-nil interface
	var db handlers.DatabaseChecker
	if d.DB != nil {
		db = d.DB
	}

	d.HeroHandler = handlers.NewHeroHandler(heroes.NewService(d.Heroes, d.Logger), d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(db, d.Keys, d.Logger)
	d.AdminHandler = handlers.NewAdminHandler(d.Keys, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
