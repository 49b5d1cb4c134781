package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
)

// DefaultSnapshotKeep is the number of snapshots retained per source.
const DefaultSnapshotKeep = 5

// ErrNoSnapshot is returned when a source has never been persisted.
var ErrNoSnapshot = errors.New("no snapshot for source")

// SnapshotRepository persists the working sets returned by content sources.
type SnapshotRepository interface {
	Save(ctx context.Context, source string, items []models.ContentItem) error
	Latest(ctx context.Context, source string) (*models.Snapshot, []models.ContentItem, error)
}

type sqlxSnapshotRepository struct {
	db   *database.DB
	keep int
	now  func() time.Time
}

// NewSnapshotRepository creates a repository keeping at most keep snapshots
// per source; keep <= 0 uses DefaultSnapshotKeep.
func NewSnapshotRepository(db *database.DB, keep int) SnapshotRepository {
	if keep <= 0 {
		keep = DefaultSnapshotKeep
	}
	return &sqlxSnapshotRepository{db: db, keep: keep, now: time.Now}
}

// Save stores items as the newest snapshot of source and prunes older ones.
func (r *sqlxSnapshotRepository) Save(ctx context.Context, source string, items []models.ContentItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO snapshots (source, items, item_count, fetched_at)
		VALUES (:source, :items, :item_count, :fetched_at)`,
		models.Snapshot{
			Source:    source,
			Items:     payload,
			ItemCount: len(items),
			FetchedAt: r.now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE source = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE source = ?
			ORDER BY fetched_at DESC, id DESC LIMIT ?
		)`, source, source, r.keep)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return tx.Commit()
}

// Latest returns the newest snapshot of source with its decoded items.
func (r *sqlxSnapshotRepository) Latest(ctx context.Context, source string) (*models.Snapshot, []models.ContentItem, error) {
	var snap models.Snapshot
	err := r.db.GetContext(ctx, &snap, `
		SELECT * FROM snapshots
		WHERE source = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var items []models.ContentItem
	if err := json.Unmarshal(snap.Items, &items); err != nil {
		return nil, nil, fmt.Errorf("failed to decode snapshot %d: %w", snap.ID, err)
	}
	return &snap, items, nil
}
