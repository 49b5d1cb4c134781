package storage

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
)

// CachedSource persists every non-empty working set its source returns.
type CachedSource struct {
	name   string
	src    rotation.Source
	repo   SnapshotRepository
	logger zerolog.Logger
}

func NewCachedSource(name string, src rotation.Source, repo SnapshotRepository, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		name:   name,
		src:    src,
		repo:   repo,
		logger: logger.With().Str("source", name).Logger(),
	}
}

// Fetch delegates to the wrapped source. A failed save is logged and does not
// fail the fetch.
func (s *CachedSource) Fetch(ctx context.Context) ([]models.ContentItem, error) {
	items, err := s.src.Fetch(ctx)
	if err != nil || len(items) == 0 {
		return items, err
	}
	if err := s.repo.Save(ctx, s.name, items); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist snapshot")
	}
	return items, nil
}

// Seed returns the last persisted working set, or nil when there is none.
func (s *CachedSource) Seed(ctx context.Context) []models.ContentItem {
	snap, items, err := s.repo.Latest(ctx, s.name)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		return nil
	case err != nil:
		s.logger.Warn().Err(err).Msg("Failed to load snapshot")
		return nil
	}
	s.logger.Info().Int("items", len(items)).Time("fetched_at", snap.FetchedAt).Msg("Seeding rotator from snapshot")
	return items
}
