// Package memory provides process-local repository implementations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hvalfangst/heroes-oauth/models"
	"github.com/hvalfangst/heroes-oauth/repositories"
	"go.uber.org/zap"
)

// HeroRepository keeps heroes in a map guarded by an RWMutex
type HeroRepository struct {
	mu     sync.RWMutex
	heroes map[string]*models.Hero
	order  []string
	logger *zap.Logger
}

// NewHeroRepository creates an empty in-memory hero repository
func NewHeroRepository(logger *zap.Logger) *HeroRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeroRepository{
		heroes: make(map[string]*models.Hero),
		logger: logger,
	}
}

// Create stores a copy of hero
func (r *HeroRepository) Create(ctx context.Context, hero *models.Hero) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.heroes[hero.ID]; ok {
		return fmt.Errorf("%w: %s", repositories.ErrHeroExists, hero.ID)
	}
	r.heroes[hero.ID] = hero.Clone()
	r.order = append(r.order, hero.ID)

	r.logger.Debug("hero created", zap.String("id", hero.ID))
	return nil
}

// GetByID retrieves a copy of the hero with the given id
func (r *HeroRepository) GetByID(ctx context.Context, id string) (*models.Hero, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	hero, ok := r.heroes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrHeroNotFound, id)
	}
	return hero.Clone(), nil
}

// List returns copies of all heroes in insertion order
func (r *HeroRepository) List(ctx context.Context) ([]*models.Hero, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	heroes := make([]*models.Hero, 0, len(r.order))
	for _, id := range r.order {
		heroes = append(heroes, r.heroes[id].Clone())
	}
	return heroes, nil
}

// Delete removes the hero with the given id
func (r *HeroRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.heroes[id]; !ok {
		return fmt.Errorf("%w: %s", repositories.ErrHeroNotFound, id)
	}
	delete(r.heroes, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug("hero deleted", zap.String("id", id))
	return nil
}
