package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 2 * time.Second
	maxFeedFailures     = 10
	maxSummaryRunes     = 400

	feedTimeout   = 2 * time.Minute
	updateTimeout = 15 * time.Second
)

// errDatabase marks failures that abort a cycle.
var errDatabase = errors.New("database")

// Ingester pulls every active wire feed, stores new headlines and keeps the
// per-feed failure accounting up to date.
type Ingester struct {
	db          *database.DB
	fetcher     Fetcher
	workerCount int

	batchSize    int
	batchTimeout time.Duration

	inserted   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// New creates an ingester over an open database.
func New(db *database.DB, fetcher Fetcher, workerCount int) (*Ingester, error) {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database connection is not valid: %w", err)
	}

	return &Ingester{
		db:           db,
		fetcher:      fetcher,
		workerCount:  workerCount,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
	}, nil
}

// Stats returns the totals accumulated across cycles.
func (in *Ingester) Stats() (inserted, duplicates, failedFeeds int64) {
	return in.inserted.Load(), in.duplicates.Load(), in.failed.Load()
}

// Run ingests once immediately and then every interval until ctx is done.
// A non-positive interval runs a single cycle. Headlines older than
// retentionDays are purged after each cycle.
func (in *Ingester) Run(ctx context.Context, interval time.Duration, retentionDays int) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if err := in.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Msg("Ingest cycle failed")
		}
		if retentionDays > 0 {
			if _, err := in.Purge(ctx, retentionDays); err != nil {
				log.Error().Err(err).Msg("Failed to purge old headlines")
			}
		}

		if tick == nil {
			log.Info().Msg("One-shot ingest completed")
			return nil
		}
		log.Info().Time("next_run", time.Now().Add(interval)).Msg("Waiting for next ingest cycle")

		select {
		case <-ctx.Done():
			log.Info().Msg("Ingest loop stopping")
			return nil
		case <-tick:
		}
	}
}

// cycle holds the channels of one pass over the feeds.
type cycle struct {
	feeds  chan models.WireFeed
	items  chan models.StoredHeadline
	writes chan models.StoredHeadline
	errs   chan error

	workers    sync.WaitGroup
	processors sync.WaitGroup
}

// RunOnce fetches every active feed once through the worker pipeline:
// feed workers -> item processors -> batched writer.
func (in *Ingester) RunOnce(ctx context.Context) error {
	start := time.Now()
	c := &cycle{
		feeds:  make(chan models.WireFeed, in.workerCount*2),
		items:  make(chan models.StoredHeadline, in.workerCount*5),
		writes: make(chan models.StoredHeadline, in.workerCount*10),
		errs:   make(chan error, in.workerCount),
	}

	errDone := make(chan error, 1)
	go func() {
		var first error
		for err := range c.errs {
			log.Error().Err(err).Msg("Ingest error")
			if first == nil && errors.Is(err, errDatabase) {
				first = err
			}
		}
		errDone <- first
	}()

	var stages sync.WaitGroup
	stages.Add(3)
	go func() {
		defer stages.Done()
		for i := 0; i < in.workerCount; i++ {
			c.workers.Add(1)
			go in.feedWorker(ctx, c)
		}
		c.workers.Wait()
		close(c.items)
	}()
	go func() {
		defer stages.Done()
		for i := 0; i < in.workerCount; i++ {
			c.processors.Add(1)
			go in.itemProcessor(ctx, c)
		}
		c.processors.Wait()
		close(c.writes)
	}()
	go func() {
		defer stages.Done()
		in.writer(ctx, c)
	}()

	feeds, loadErr := in.db.ActiveWireFeeds(ctx)
	if loadErr == nil {
		log.Info().Int("feeds", len(feeds)).Msg("Loaded active wire feeds")
	queue:
		for _, feed := range feeds {
			select {
			case c.feeds <- feed:
			case <-ctx.Done():
				log.Info().Err(ctx.Err()).Msg("Context cancelled while queueing feeds")
				break queue
			}
		}
	}
	close(c.feeds)

	stages.Wait()
	close(c.errs)
	firstErr := <-errDone

	if loadErr != nil {
		return fmt.Errorf("failed to load feeds: %w", loadErr)
	}
	if firstErr != nil {
		return firstErr
	}

	inserted, duplicates, failed := in.Stats()
	log.Info().
		Int64("inserted_total", inserted).
		Int64("duplicates_total", duplicates).
		Int64("failed_feeds_total", failed).
		Dur("duration", time.Since(start)).
		Msg("Ingest cycle complete")
	return ctx.Err()
}

func (in *Ingester) feedWorker(ctx context.Context, c *cycle) {
	defer c.workers.Done()

	for {
		select {
		case feed, ok := <-c.feeds:
			if !ok {
				return
			}
			in.ingestFeed(ctx, c, feed)
		case <-ctx.Done():
			return
		}
	}
}

func (in *Ingester) ingestFeed(ctx context.Context, c *cycle, feed models.WireFeed) {
	feedCtx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	log.Debug().Int64("feed_id", feed.ID).Str("url", feed.URL).Msg("Fetching feed")
	items, fetchErr := in.fetcher.Fetch(feedCtx, feed.URL)

	if err := in.recordFetch(ctx, &feed, fetchErr); err != nil {
		c.sendError(fmt.Errorf("%w: failed to update feed %d: %v", errDatabase, feed.ID, err))
	}
	if fetchErr != nil {
		in.failed.Add(1)
		c.sendError(fmt.Errorf("error fetching feed %d (%s): %w", feed.ID, feed.URL, fetchErr))
		return
	}

	source := feed.DisplayName()
	now := time.Now().UTC()
	for _, item := range items {
		if item.URL == "" || strings.TrimSpace(item.Headline) == "" {
			continue
		}
		h := models.StoredHeadline{
			URL:         item.URL,
			FeedID:      feed.ID,
			SourceName:  source,
			Title:       item.Headline,
			Summary:     item.Content,
			PublishedAt: item.PublishedAt,
			CreatedAt:   now,
		}
		select {
		case c.items <- h:
		case <-feedCtx.Done():
			log.Warn().Int64("feed_id", feed.ID).Err(feedCtx.Err()).Msg("Stopped queueing feed items")
			return
		}
	}

	if len(items) > 0 {
		log.Info().Int64("feed_id", feed.ID).Str("source", source).Int("items", len(items)).Msg("Feed fetched")
	}
}

// recordFetch updates the feed row after a fetch attempt. Rate limiting does
// not count as a failure.
func (in *Ingester) recordFetch(ctx context.Context, feed *models.WireFeed, fetchErr error) error {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	now := time.Now().UTC()

	if fetchErr == nil {
		_, err := in.db.ExecContext(ctx, `
			UPDATE feeds
			SET status = 'active', failures_count = 0, last_error = NULL, last_retrieved_at = ?, updated_at = ?
			WHERE id = ?`, now, now, feed.ID)
		return err
	}

	if strings.Contains(fetchErr.Error(), "429") {
		log.Warn().Int64("feed_id", feed.ID).Str("url", feed.URL).Msg("Rate limited by feed")
		feed.Status = "rate_limited"
		feed.LastError = sql.NullString{String: "Rate limited by feed", Valid: true}
	} else {
		feed.FailuresCount++
		feed.LastError = sql.NullString{String: fetchErr.Error(), Valid: true}
		if feed.FailuresCount > maxFeedFailures {
			feed.Status = "failed"
		}
	}

	_, err := in.db.ExecContext(ctx, `
		UPDATE feeds
		SET status = ?, failures_count = ?, last_error = ?, last_retrieved_at = ?, updated_at = ?
		WHERE id = ?`,
		feed.Status, feed.FailuresCount, feed.LastError, now, now, feed.ID)
	return err
}

// itemProcessor cleans headlines before they are written.
func (in *Ingester) itemProcessor(ctx context.Context, c *cycle) {
	defer c.processors.Done()

	for {
		select {
		case h, ok := <-c.items:
			if !ok {
				return
			}
			h.Title = strings.Join(strings.Fields(h.Title), " ")
			h.Summary = summarize(h.Summary)
			if h.PublishedAt.IsZero() {
				h.PublishedAt = h.CreatedAt
			}
			select {
			case c.writes <- h:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (in *Ingester) writer(ctx context.Context, c *cycle) {
	batch := make([]models.StoredHeadline, 0, in.batchSize)
	ticker := time.NewTicker(in.batchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Flush even after cancellation so queued headlines are not lost.
		in.writeBatch(context.WithoutCancel(ctx), c, batch)
		batch = make([]models.StoredHeadline, 0, in.batchSize)
	}

	for {
		select {
		case h, ok := <-c.writes:
			if !ok {
				flush()
				return
			}
			batch = append(batch, h)
			if len(batch) >= in.batchSize {
				flush()
				ticker.Reset(in.batchTimeout)
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (in *Ingester) writeBatch(ctx context.Context, c *cycle, batch []models.StoredHeadline) {
	tx, err := in.db.BeginTxx(ctx, nil)
	if err != nil {
		c.sendError(fmt.Errorf("%w: failed to begin transaction: %v", errDatabase, err))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO headlines (url, feed_id, source_name, title, summary, published_at, created_at)
		VALUES (:url, :feed_id, :source_name, :title, :summary, :published_at, :created_at)
		ON CONFLICT(url) DO NOTHING`)
	if err != nil {
		c.sendError(fmt.Errorf("%w: failed to prepare insert: %v", errDatabase, err))
		return
	}
	defer stmt.Close()

	var inserted, duplicates int64
	for _, h := range batch {
		res, err := stmt.ExecContext(ctx, h)
		if err != nil {
			c.sendError(fmt.Errorf("failed to insert headline %s: %w", h.URL, err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		} else {
			duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		c.sendError(fmt.Errorf("%w: failed to commit headlines: %v", errDatabase, err))
		return
	}

	in.inserted.Add(inserted)
	in.duplicates.Add(duplicates)
	log.Debug().Int64("inserted", inserted).Int64("duplicates", duplicates).Msg("Headline batch written")
}

// sendError never blocks; overflow is logged instead.
func (c *cycle) sendError(err error) {
	select {
	case c.errs <- err:
	default:
		log.Error().Err(err).Msg("Error queue full")
	}
}

// Purge deletes headlines stored more than retentionDays ago.
func (in *Ingester) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := in.db.ExecContext(ctx, "DELETE FROM headlines WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge headlines: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read purged row count")
		return 0, nil
	}
	log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("Purged old headlines")
	return n, nil
}

func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSummaryRunes {
		return s
	}
	return string(r[:maxSummaryRunes]) + "…"
}
