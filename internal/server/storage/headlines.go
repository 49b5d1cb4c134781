package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
)

// HeadlineRepository defines read access to ingested RSS headlines and the
// feeds they came from.
type HeadlineRepository interface {
	FetchHeadlines(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.StoredHeadline, error)
	LatestHeadlines(ctx context.Context, limit int) ([]models.StoredHeadline, error)
	AllFeeds(ctx context.Context) ([]models.WireFeed, error)
}

type sqlxHeadlineRepository struct {
	db *database.DB
}

// NewHeadlineRepository creates a repository over db.
func NewHeadlineRepository(db *database.DB) HeadlineRepository {
	return &sqlxHeadlineRepository{db: db}
}

// FetchHeadlines pages through headlines in ingestion order, either strictly
// after since (first page) or strictly after the cursor position.
func (r *sqlxHeadlineRepository) FetchHeadlines(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.StoredHeadline, error) {
	const baseQuery = `SELECT * FROM headlines `
	const orderBy = ` ORDER BY created_at ASC, id ASC LIMIT ?`

	var query string
	var args []any

	switch {
	case cursorTimestamp != nil && cursorID != nil:
		query = baseQuery + `WHERE (created_at > ?) OR (created_at = ? AND id > ?)` + orderBy
		args = append(args, cursorTimestamp.UTC(), cursorTimestamp.UTC(), *cursorID, limit)
	case since != nil:
		query = baseQuery + `WHERE created_at > ?` + orderBy
		args = append(args, since.UTC(), limit)
	default:
		return nil, fmt.Errorf("either 'since' or cursor parameters must be provided")
	}

	items := []models.StoredHeadline{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.StoredHeadline{}, nil
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return items, nil
}

// LatestHeadlines returns the most recently published headlines, newest first.
func (r *sqlxHeadlineRepository) LatestHeadlines(ctx context.Context, limit int) ([]models.StoredHeadline, error) {
	items := []models.StoredHeadline{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM headlines
		ORDER BY published_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest headlines: %w", err)
	}
	return items, nil
}

// AllFeeds returns every feed that was not deleted, in insertion order.
func (r *sqlxHeadlineRepository) AllFeeds(ctx context.Context) ([]models.WireFeed, error) {
	var feeds []models.WireFeed
	err := r.db.SelectContext(ctx, &feeds, `
		SELECT * FROM feeds
		WHERE deleted_at IS NULL
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}
	return feeds, nil
}
