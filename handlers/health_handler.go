package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hvalfangst/heroes-oauth/entra"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
)

// Banner is returned from GET /
const Banner = "Hvalfangst heroes API deployed to Azure App Service"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// DatabaseChecker is implemented by *postgres.DB
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// SigningKeyProvider is implemented by *entra.Fetcher
type SigningKeyProvider interface {
	SigningKeys(ctx context.Context) (*entra.KeySet, error)
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     DatabaseChecker
	keys   SigningKeyProvider
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when heroes are kept in memory.
func NewHealthHandler(db DatabaseChecker, keys SigningKeyProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		keys:   keys,
		logger: logger,
	}
}

// HandleRoot handles GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteMessage(w, Banner)
}

// HandleHealth handles GET /healthz. It reports healthy whenever the process serves requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "not_configured"
	} else if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if err := h.checkSigningKeys(ctx); err != nil {
		h.logger.Warn("signing key check failed",
			zap.String("kind", string(entra.KindOf(err))),
			zap.Error(err))
		checks["signing_keys"] = "unavailable"
		allHealthy = false
	} else {
		checks["signing_keys"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkSigningKeys serves from the cached key set and only reaches the
// identity provider when the snapshot is missing or stale
func (h *HealthHandler) checkSigningKeys(ctx context.Context) error {
	if h.keys == nil {
		return nil
	}
	_, err := h.keys.SigningKeys(ctx)
	return err
}
