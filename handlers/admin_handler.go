package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hvalfangst/heroes-oauth/entra"
	"github.com/hvalfangst/heroes-oauth/middleware"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
)

// KeySetRefresher is implemented by *entra.Fetcher
type KeySetRefresher interface {
	Refresh(ctx context.Context) (*entra.KeySet, error)
}

// KeySetResponse describes the signing keys currently trusted
type KeySetResponse struct {
	KeyCount  int      `json:"key_count"`
	KeyIDs    []string `json:"key_ids"`
	JWKSURI   string   `json:"jwks_uri"`
	FetchedAt string   `json:"fetched_at"`
	ExpiresAt string   `json:"expires_at"`
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	keys   KeySetRefresher
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(keys KeySetRefresher, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		keys:   keys,
		logger: logger,
	}
}

// HandleRefreshKeys handles POST /api/admin/jwks/refresh
func (h *AdminHandler) HandleRefreshKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	set, err := h.keys.Refresh(ctx)
	if err != nil {
		h.logger.Warn("forced signing key refresh failed",
			zap.String("request_id", requestID),
			zap.String("kind", string(entra.KindOf(err))),
			zap.Error(err))
		middleware.WriteAuthError(w, err)
		return
	}

	var oid string
	if token := middleware.TokenFromContext(ctx); token != nil {
		oid = token.ObjectID
	}
	h.logger.Info("signing keys refreshed",
		zap.String("request_id", requestID),
		zap.String("oid", oid),
		zap.Int("key_count", set.Len()))

	if err := utils.WriteOK(w, KeySetResponse{
		KeyCount:  set.Len(),
		KeyIDs:    set.KeyIDs(),
		JWKSURI:   set.JWKSURI,
		FetchedAt: set.FetchedAt.UTC().Format(time.RFC3339),
		ExpiresAt: set.ExpiresAt.UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
