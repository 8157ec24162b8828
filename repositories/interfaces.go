package repositories

import (
	"context"
	"errors"

	"github.com/hvalfangst/heroes-oauth/models"
)

var (
	// ErrHeroNotFound is returned when no hero has the requested id
	ErrHeroNotFound = errors.New("hero not found")

	// ErrHeroExists is returned when a hero with the same id is already stored
	ErrHeroExists = errors.New("hero already exists")
)

// HeroRepository handles hero data operations
type HeroRepository interface {
	// Create stores a new hero. The hero must carry an id.
	Create(ctx context.Context, hero *models.Hero) error

	// GetByID retrieves a hero by id
	GetByID(ctx context.Context, id string) (*models.Hero, error)

	// List returns all heroes in insertion order
	List(ctx context.Context) ([]*models.Hero, error)

	// Delete removes a hero by id
	Delete(ctx context.Context, id string) error
}

// Repositories holds all repository instances
type Repositories struct {
	Heroes HeroRepository
}
