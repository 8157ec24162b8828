package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hvalfangst/heroes-oauth/app"
	authmw "github.com/hvalfangst/heroes-oauth/middleware"
	"github.com/hvalfangst/heroes-oauth/utils"
)

// Delegated scopes exposed by the heroes API registration
const (
	ScopeHeroesRead   = "Heroes.Read"
	ScopeHeroesWrite  = "Heroes.Write"
	ScopeHeroesDelete = "Heroes.Delete"
)

// SetupRoutes configures the resource server routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(authmw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"WWW-Authenticate", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/", deps.HealthHandler.HandleRoot)
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", deps.Prometheus.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/heroes", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.With(deps.AuthMiddleware.RequireScopes(ScopeHeroesWrite)).Post("/", deps.HeroHandler.HandleCreate)
			r.With(deps.AuthMiddleware.RequireScopes(ScopeHeroesRead)).Get("/", deps.HeroHandler.HandleList)
			r.With(deps.AuthMiddleware.RequireScopes(ScopeHeroesRead)).Get("/{id}", deps.HeroHandler.HandleGet)
			r.With(deps.AuthMiddleware.RequireScopes(ScopeHeroesDelete)).Delete("/{id}", deps.HeroHandler.HandleDelete)
		})

		// Operator endpoints (require app role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAnyRole(deps.Config.Entra.AdminRole))
			r.Post("/jwks/refresh", deps.AdminHandler.HandleRefreshKeys)
		})
	})

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	return r
}

// SetupClientRoutes configures the client application routes
func SetupClientRoutes(deps *app.ClientDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(authmw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", deps.AuthHandler.HandleLogin)
		r.Get("/callback", deps.AuthHandler.HandleCallback)
	})

	r.Route("/api/heroes", deps.HeroProxy.Routes)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotFound(w, "endpoint not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
}
