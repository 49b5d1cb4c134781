// Package migrations applies the embedded SQLite schema scripts.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var Files embed.FS

// Dir is the directory inside Files holding the scripts.
const Dir = "sql"

const versionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

// Migration is one numbered schema step. Scripts are named
// NNNN_name.up.sql and NNNN_name.down.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Set is a list of migrations ordered by version.
type Set []Migration

// parseName splits "0002_snapshots.down.sql" into 2, "snapshots", "down".
func parseName(file string) (version int, name, direction string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", "", false
	}
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return 0, "", "", false
	}
	base, direction = base[:dot], base[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}
	num, name, _ := strings.Cut(base, "_")
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, name, direction, true
}

// Load reads every script under dir in fsys. Files that do not follow the
// naming scheme are skipped with a warning.
func Load(fsys fs.FS, dir string) (Set, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, ok := parseName(entry.Name())
		if !ok {
			log.Warn().Str("file", entry.Name()).Msg("Skipping file with unexpected migration name")
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	set := make(Set, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %04d_%s has no up script", m.Version, m.Name)
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b Migration) int { return a.Version - b.Version })
	return set, nil
}

// Applied returns the recorded versions, oldest first.
func Applied(ctx context.Context, db *sqlx.DB) ([]int, error) {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	return versions, nil
}

// step runs one script and its bookkeeping statement atomically.
func step(ctx context.Context, db *sqlx.DB, script, record string, args ...any) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Apply runs every migration not yet recorded and returns how many ran.
func (s Set) Apply(ctx context.Context, db *sqlx.DB) (int, error) {
	applied, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, m := range s {
		if slices.Contains(applied, m.Version) {
			continue
		}
		err := step(ctx, db, m.Up,
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
		if err != nil {
			return ran, fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration")
		ran++
	}
	return ran, nil
}

// Rollback undoes the n most recently applied migrations, newest first.
// A migration without a down script stops the rollback.
func (s Set) Rollback(ctx context.Context, db *sqlx.DB, n int) error {
	applied, err := Applied(ctx, db)
	if err != nil {
		return err
	}

	for i := len(applied) - 1; i >= 0 && n > 0; i, n = i-1, n-1 {
		version := applied[i]
		idx := slices.IndexFunc(s, func(m Migration) bool { return m.Version == version })
		if idx < 0 || s[idx].Down == "" {
			return fmt.Errorf("migration %04d cannot be rolled back", version)
		}
		m := s[idx]
		err := step(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
		if err != nil {
			return fmt.Errorf("rollback %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Rolled back migration")
	}
	return nil
}
