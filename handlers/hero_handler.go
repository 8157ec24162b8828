package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hvalfangst/heroes-oauth/middleware"
	"github.com/hvalfangst/heroes-oauth/models"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
)

// HeroService defines the hero operations the HTTP layer needs
type HeroService interface {
	Create(ctx context.Context, hero *models.Hero) (*models.Hero, error)
	Get(ctx context.Context, id string) (*models.Hero, error)
	List(ctx context.Context) ([]*models.Hero, error)
	Delete(ctx context.Context, id string) error
}

// HeroHandler handles hero-related HTTP requests
type HeroHandler struct {
	service HeroService
	logger  *zap.Logger
}

// NewHeroHandler creates a new HeroHandler
func NewHeroHandler(service HeroService, logger *zap.Logger) *HeroHandler {
	return &HeroHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCreate handles POST /api/heroes
func (h *HeroHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var hero models.Hero
	if err := utils.DecodeJSON(r, &hero); err != nil {
		h.logger.Debug("invalid hero body",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	created, err := h.service.Create(ctx, &hero)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteCreated(w, created); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleList handles GET /api/heroes
func (h *HeroHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	heroes, err := h.service.List(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, heroes); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleGet handles GET /api/heroes/{id}
func (h *HeroHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	hero, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, hero); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleDelete handles DELETE /api/heroes/{id}
func (h *HeroHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteMessage(w, fmt.Sprintf("Hero with id '%s' deleted successfully", id)); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
