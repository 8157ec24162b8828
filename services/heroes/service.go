// Package heroes implements the hero use cases on top of a HeroRepository.
package heroes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hvalfangst/heroes-oauth/models"
	"github.com/hvalfangst/heroes-oauth/repositories"
	"github.com/hvalfangst/heroes-oauth/services"
	"github.com/hvalfangst/heroes-oauth/utils"
	"go.uber.org/zap"
)

// Service handles hero creation, lookup and removal
type Service struct {
	repo   repositories.HeroRepository
	logger *zap.Logger
}

// NewService creates a new hero Service
func NewService(repo repositories.HeroRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Create validates hero, assigns an id when none is given and stores it
func (s *Service) Create(ctx context.Context, hero *models.Hero) (*models.Hero, error) {
	if hero == nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "hero is required", nil)
	}

	if err := utils.ValidateStruct(hero); err != nil {
		domainErr := services.NewDomainError(services.ErrorTypeValidation, "Validation failed", err)
		for field, msg := range utils.FieldDetails(err) {
			domainErr.WithDetail(field, msg)
		}
		return nil, domainErr
	}

	created := hero.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	if err := s.repo.Create(ctx, created); err != nil {
		if errors.Is(err, repositories.ErrHeroExists) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, "Hero with this id already exists", err).
				WithDetail("id", created.ID)
		}
		return nil, services.WrapInternal("failed to create hero", err)
	}

	s.logger.Info("hero created",
		zap.String("id", created.ID),
		zap.String("class", created.Class),
		zap.Int("level", created.Level))

	return created, nil
}

// Get returns the hero with the given id
func (s *Service) Get(ctx context.Context, id string) (*models.Hero, error) {
	hero, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapLookupError("failed to get hero", err)
	}
	return hero, nil
}

// List returns every stored hero
func (s *Service) List(ctx context.Context) ([]*models.Hero, error) {
	heroes, err := s.repo.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list heroes", err)
	}
	return heroes, nil
}

// Delete removes the hero with the given id
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.mapLookupError("failed to delete hero", err)
	}

	s.logger.Info("hero deleted", zap.String("id", id))
	return nil
}

func (s *Service) mapLookupError(message string, err error) error {
	if errors.Is(err, repositories.ErrHeroNotFound) {
		return services.NewDomainError(services.ErrorTypeNotFound, "Hero not found", err)
	}
	return services.WrapInternal(message, err)
}
