package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
)

type mockFetcher struct {
	mu      sync.Mutex
	results map[string][]FetchedItem
	errs    map[string]error
	calls   map[string]int
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]FetchedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[url]++
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	return m.results[url], nil
}

func setupDB(t *testing.T, urls ...string) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "ingest.db")))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, u := range urls {
		feed := models.NewWireFeed()
		feed.URL = u
		if err := db.InsertWireFeed(feed); err != nil {
			t.Fatalf("InsertWireFeed(%s) failed: %v", u, err)
		}
	}
	return db
}

func countHeadlines(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM headlines"); err != nil {
		t.Fatalf("count headlines: %v", err)
	}
	return n
}

func TestRunOnce(t *testing.T) {
	const (
		good    = "https://wires.example.com/good.xml"
		broken  = "https://wires.example.com/broken.xml"
		limited = "https://wires.example.com/limited.xml"
	)
	db := setupDB(t, good, broken, limited)

	published := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{
		results: map[string][]FetchedItem{
			good: {
				{URL: "https://example.com/1", Headline: "  Parliament   meets ", Content: "Body\n\ntext", PublishedAt: published},
				{URL: "https://example.com/2", Headline: "Second"},
				{URL: "", Headline: "no url"},
				{URL: "https://example.com/3", Headline: "   "},
			},
		},
		errs: map[string]error{
			broken:  errors.New("connection refused"),
			limited: errors.New("unexpected status 429"),
		},
	}

	in, err := New(db, fetcher, 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := in.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if got := countHeadlines(t, db); got != 2 {
		t.Fatalf("stored %d headlines, want 2", got)
	}

	var h models.StoredHeadline
	if err := db.Get(&h, "SELECT * FROM headlines WHERE url = ?", "https://example.com/1"); err != nil {
		t.Fatalf("load headline: %v", err)
	}
	if h.Title != "Parliament meets" || h.Summary != "Body text" || h.SourceName != good {
		t.Errorf("unexpected stored headline: %+v", h)
	}
	if !h.PublishedAt.Equal(published) {
		t.Errorf("published_at = %v, want %v", h.PublishedAt, published)
	}

	var second models.StoredHeadline
	if err := db.Get(&second, "SELECT * FROM headlines WHERE url = ?", "https://example.com/2"); err != nil {
		t.Fatalf("load headline: %v", err)
	}
	if second.PublishedAt.IsZero() {
		t.Error("missing published date should default to the ingest time")
	}

	var brokenFeed, limitedFeed models.WireFeed
	if err := db.Get(&brokenFeed, "SELECT * FROM feeds WHERE url = ?", broken); err != nil {
		t.Fatalf("load feed: %v", err)
	}
	if brokenFeed.FailuresCount != 1 || brokenFeed.Status != "active" || !brokenFeed.LastError.Valid {
		t.Errorf("unexpected broken feed state: %+v", brokenFeed)
	}
	if err := db.Get(&limitedFeed, "SELECT * FROM feeds WHERE url = ?", limited); err != nil {
		t.Fatalf("load feed: %v", err)
	}
	if limitedFeed.Status != "rate_limited" || limitedFeed.FailuresCount != 0 {
		t.Errorf("unexpected rate limited feed state: %+v", limitedFeed)
	}

	// Second pass: the same URLs are duplicates and the rate limited feed is skipped.
	if err := in.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if got := countHeadlines(t, db); got != 2 {
		t.Errorf("stored %d headlines after second run, want 2", got)
	}
	inserted, duplicates, failed := in.Stats()
	if inserted != 2 || duplicates != 2 || failed != 3 {
		t.Errorf("Stats() = %d/%d/%d, want 2/2/3", inserted, duplicates, failed)
	}
	if fetcher.calls[limited] != 1 {
		t.Errorf("rate limited feed fetched %d times, want 1", fetcher.calls[limited])
	}
}

func TestFeedMarkedFailed(t *testing.T) {
	const url = "https://wires.example.com/dead.xml"
	db := setupDB(t, url)
	if _, err := db.Exec("UPDATE feeds SET failures_count = ?", maxFeedFailures); err != nil {
		t.Fatalf("seed failures: %v", err)
	}

	in, err := New(db, &mockFetcher{errs: map[string]error{url: fmt.Errorf("404")}}, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := in.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	var status string
	if err := db.Get(&status, "SELECT status FROM feeds WHERE url = ?", url); err != nil {
		t.Fatalf("load status: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}

func TestPurge(t *testing.T) {
	const url = "https://wires.example.com/feed.xml"
	db := setupDB(t, url)

	old := time.Now().UTC().AddDate(0, 0, -5)
	fresh := time.Now().UTC()
	for i, created := range []time.Time{old, fresh} {
		_, err := db.Exec(`INSERT INTO headlines (url, feed_id, title, published_at, created_at)
			VALUES (?, 1, ?, ?, ?)`, fmt.Sprintf("https://example.com/%d", i), "t", created, created)
		if err != nil {
			t.Fatalf("insert headline: %v", err)
		}
	}

	in, err := New(db, &mockFetcher{}, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n, err := in.Purge(context.Background(), 3)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 || countHeadlines(t, db) != 1 {
		t.Errorf("purged %d, remaining %d; want 1 and 1", n, countHeadlines(t, db))
	}

	if _, err := in.Purge(context.Background(), 0); err == nil {
		t.Error("expected error for non-positive retention")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	db := setupDB(t)
	in, err := New(db, &mockFetcher{}, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, time.Hour, 3) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunOneShot(t *testing.T) {
	const feed = "https://wires.example.com/one.xml"
	db := setupDB(t, feed)
	fetcher := &mockFetcher{results: map[string][]FetchedItem{
		feed: {{URL: "https://example.com/a", Headline: "a", PublishedAt: time.Now()}},
	}}
	in, err := New(db, fetcher, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := in.Run(context.Background(), 0, 3); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if fetcher.calls[feed] != 1 {
		t.Errorf("feed fetched %d times, want 1", fetcher.calls[feed])
	}
	if n := countHeadlines(t, db); n != 1 {
		t.Errorf("stored %d headlines, want 1", n)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, &mockFetcher{}, 1); err == nil {
		t.Error("expected error for nil database")
	}
	db := setupDB(t)
	if _, err := New(db, nil, 1); err == nil {
		t.Error("expected error for nil fetcher")
	}
}
