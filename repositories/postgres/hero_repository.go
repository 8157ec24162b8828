package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hvalfangst/heroes-oauth/models"
	"github.com/hvalfangst/heroes-oauth/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = pq.ErrorCode("23505")

const heroColumns = `id, name, race, class, level, background, alignment,
	hit_points, armor_class, speed, personality_traits, ideals, bonds, flaws`

// HeroRepository implements the repositories.HeroRepository interface
type HeroRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHeroRepository creates a new hero repository
func NewHeroRepository(db *DB, logger *zap.Logger) repositories.HeroRepository {
	return &HeroRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new hero
func (r *HeroRepository) Create(ctx context.Context, hero *models.Hero) error {
	query := `
		INSERT INTO heroes (` + heroColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		hero.ID,
		hero.Name,
		hero.Race,
		hero.Class,
		hero.Level,
		nullString(hero.Background),
		nullString(hero.Alignment),
		hero.HitPoints,
		hero.ArmorClass,
		hero.Speed,
		nullString(hero.PersonalityTraits),
		nullString(hero.Ideals),
		nullString(hero.Bonds),
		nullString(hero.Flaws),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", repositories.ErrHeroExists, hero.ID)
		}
		return fmt.Errorf("failed to create hero: %w", err)
	}

	r.logger.Debug("hero created", zap.String("id", hero.ID))
	return nil
}

// GetByID retrieves a hero by id
func (r *HeroRepository) GetByID(ctx context.Context, id string) (*models.Hero, error) {
	query := `SELECT ` + heroColumns + ` FROM heroes WHERE id = $1`

	hero, err := scanHero(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrHeroNotFound, id)
		}
		return nil, fmt.Errorf("failed to get hero: %w", err)
	}

	return hero, nil
}

// List returns all heroes in insertion order
func (r *HeroRepository) List(ctx context.Context) ([]*models.Hero, error) {
	query := `SELECT ` + heroColumns + ` FROM heroes ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list heroes: %w", err)
	}
	defer rows.Close()

	heroes := make([]*models.Hero, 0)
	for rows.Next() {
		hero, err := scanHero(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hero: %w", err)
		}
		heroes = append(heroes, hero)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating heroes: %w", err)
	}

	return heroes, nil
}

// Delete removes a hero by id
func (r *HeroRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM heroes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete hero: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", repositories.ErrHeroNotFound, id)
	}

	r.logger.Debug("hero deleted", zap.String("id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHero(row rowScanner) (*models.Hero, error) {
	hero := &models.Hero{}
	var background, alignment, traits, ideals, bonds, flaws sql.NullString

	err := row.Scan(
		&hero.ID,
		&hero.Name,
		&hero.Race,
		&hero.Class,
		&hero.Level,
		&background,
		&alignment,
		&hero.HitPoints,
		&hero.ArmorClass,
		&hero.Speed,
		&traits,
		&ideals,
		&bonds,
		&flaws,
	)
	if err != nil {
		return nil, err
	}

	hero.Background = background.String
	hero.Alignment = alignment.String
	hero.PersonalityTraits = traits.String
	hero.Ideals = ideals.String
	hero.Bonds = bonds.String
	hero.Flaws = flaws.String
	return hero, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
