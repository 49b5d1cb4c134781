package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "storage.db")))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedHeadlines inserts n headlines of one feed, created one minute apart
// starting at base.
func seedHeadlines(t *testing.T, db *database.DB, base time.Time, n int) {
	t.Helper()
	feed := models.NewWireFeed()
	feed.URL = "https://wires.example.com/rss"
	if err := db.InsertWireFeed(feed); err != nil {
		t.Fatalf("InsertWireFeed failed: %v", err)
	}
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		_, err := db.Exec(`
			INSERT INTO headlines (url, feed_id, source_name, title, published_at, created_at)
			VALUES (?, 1, 'Wire', ?, ?, ?)`,
			fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("headline %d", i), ts, ts)
		if err != nil {
			t.Fatalf("insert headline %d: %v", i, err)
		}
	}
}

func TestFetchHeadlinesPaging(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedHeadlines(t, db, base, 5)
	repo := NewHeadlineRepository(db)
	ctx := context.Background()

	since := base.Add(-time.Second)
	first, err := repo.FetchHeadlines(ctx, 3, &since, nil, nil)
	if err != nil {
		t.Fatalf("FetchHeadlines failed: %v", err)
	}
	if len(first) != 3 || first[0].Title != "headline 0" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	last := first[len(first)-1]
	ts, id := last.CreatedAt, last.ID
	second, err := repo.FetchHeadlines(ctx, 3, nil, &ts, &id)
	if err != nil {
		t.Fatalf("FetchHeadlines with cursor failed: %v", err)
	}
	if len(second) != 2 || second[0].Title != "headline 3" {
		t.Fatalf("unexpected second page: %+v", second)
	}

	if _, err := repo.FetchHeadlines(ctx, 3, nil, nil, nil); err == nil {
		t.Error("expected error without since or cursor")
	}
}

func TestLatestHeadlines(t *testing.T) {
	db := setupDB(t)
	seedHeadlines(t, db, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), 4)

	items, err := NewHeadlineRepository(db).LatestHeadlines(context.Background(), 2)
	if err != nil {
		t.Fatalf("LatestHeadlines failed: %v", err)
	}
	if len(items) != 2 || items[0].Title != "headline 3" || items[1].Title != "headline 2" {
		t.Errorf("unexpected latest headlines: %+v", items)
	}
}

func TestSnapshotSaveAndLatest(t *testing.T) {
	db := setupDB(t)
	repo := NewSnapshotRepository(db, 2).(*sqlxSnapshotRepository)
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	if _, _, err := repo.Latest(ctx, "articles"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest on empty table = %v, want ErrNoSnapshot", err)
	}

	for i := 1; i <= 3; i++ {
		items := make([]models.ContentItem, i)
		for j := range items {
			items[j] = models.ContentItem{ID: fmt.Sprint(j), Title: fmt.Sprintf("item %d", j)}
		}
		if err := repo.Save(ctx, "articles", items); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	if err := repo.Save(ctx, "me-wires", []models.ContentItem{{ID: "w", Title: "wire"}}); err != nil {
		t.Fatalf("Save me-wires failed: %v", err)
	}

	snap, items, err := repo.Latest(ctx, "articles")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if snap.ItemCount != 3 || len(items) != 3 || items[2].Title != "item 2" {
		t.Errorf("unexpected latest snapshot: %+v %+v", snap, items)
	}

	var kept int
	db.Get(&kept, "SELECT COUNT(*) FROM snapshots WHERE source = 'articles'")
	if kept != 2 {
		t.Errorf("kept %d article snapshots, want 2", kept)
	}
}

func TestCachedSource(t *testing.T) {
	db := setupDB(t)
	repo := NewSnapshotRepository(db, 0)
	ctx := context.Background()

	var result []models.ContentItem
	var fetchErr error
	src := rotation.SourceFunc(func(ctx context.Context) ([]models.ContentItem, error) {
		return result, fetchErr
	})
	cached := NewCachedSource("articles", src, repo, zerolog.Nop())

	if seed := cached.Seed(ctx); seed != nil {
		t.Fatalf("Seed before any fetch = %v, want nil", seed)
	}

	result = []models.ContentItem{{ID: "1", Title: "first"}}
	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	result, fetchErr = nil, errors.New("upstream down")
	if _, err := cached.Fetch(ctx); err == nil {
		t.Fatal("expected fetch error to propagate")
	}

	fetchErr = nil
	cached.Fetch(ctx)

	seed := cached.Seed(ctx)
	if len(seed) != 1 || seed[0].Title != "first" {
		t.Errorf("Seed = %+v, want the last non-empty working set", seed)
	}
}
