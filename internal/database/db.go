package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"broadcast-graphics/onair/internal/database/migrations"
	"broadcast-graphics/onair/internal/models"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite file described by cfg. Read-write handles bring the
// schema up to date before returning.
func NewDB(cfg *Config) (*DB, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	logger := log.With().Str("path", cfg.Path).Str("mode", cfg.mode()).Logger()

	conn, err := sqlx.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.PoolSize)
	conn.SetMaxIdleConns(cfg.PoolSize)
	conn.SetConnMaxLifetime(cfg.MaxConnAge)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.mode(), err)
	}

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheKiB),
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			logger.Warn().Err(err).Str("pragma", pragma).Msg("Failed to set PRAGMA")
		}
	}

	if !cfg.ReadOnly {
		set, err := migrations.Load(migrations.Files, migrations.Dir)
		if err != nil {
			conn.Close()
			return nil, err
		}
		ran, err := set.Apply(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Debug().Int("applied", ran).Msg("Schema up to date")
	}

	logger.Info().Msg("Database opened")
	return &DB{conn}, nil
}

const insertWireFeedSQL = `
	INSERT INTO feeds (url, name, language, status, created_at, updated_at)
	VALUES (:url, :name, :language, :status, :created_at, :updated_at)`

// InsertWireFeed adds one wire feed.
func (db *DB) InsertWireFeed(feed *models.WireFeed) error {
	_, err := db.NamedExec(insertWireFeedSQL, feed)
	return err
}

// InsertWireFeeds adds feeds in a single transaction. A row that fails, for
// example on a duplicate URL, does not stop the others; its error is
// returned at the same index.
func (db *DB) InsertWireFeeds(ctx context.Context, feeds []*models.WireFeed) ([]error, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertWireFeedSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare feed insert: %w", err)
	}
	defer stmt.Close()

	rowErrs := make([]error, len(feeds))
	for i, feed := range feeds {
		if _, err := stmt.ExecContext(ctx, feed); err != nil {
			rowErrs[i] = err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit feeds: %w", err)
	}
	return rowErrs, nil
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ActiveWireFeeds returns the feeds the ingester should poll, least recently
// retrieved first.
func (db *DB) ActiveWireFeeds(ctx context.Context) ([]models.WireFeed, error) {
	var feeds []models.WireFeed
	err := db.SelectContext(ctx, &feeds, `
		SELECT * FROM feeds
		WHERE status = 'active' AND deleted_at IS NULL
		ORDER BY last_retrieved_at ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active feeds: %w", err)
	}
	return feeds, nil
}

// DeleteDB removes the database file if it exists
func DeleteDB(dbPath string) error {
	if _, err := os.Stat(dbPath); err == nil {
		return os.Remove(dbPath)
	}
	return nil
}
