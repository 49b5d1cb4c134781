package ingest

import (
	"context"
	"time"

	"github.com/reddot-watch/feedfetcher"
)

// FetchedItem is one normalised entry of an RSS wire.
type FetchedItem struct {
	URL         string
	Headline    string
	Content     string
	PublishedAt time.Time
}

// Fetcher downloads and normalises a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]FetchedItem, error)
}

// FetcherConfig holds the knobs passed to feedfetcher.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxItems       int
	MaxAge         time.Duration
}

type feedFetcher struct {
	f *feedfetcher.FeedFetcher
}

// NewFeedFetcher returns a Fetcher backed by feedfetcher, which handles
// RSS/Atom parsing, date sanity checks and headline trimming.
func NewFeedFetcher(cfg FetcherConfig) Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "OnAirWires/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}

	return &feedFetcher{f: feedfetcher.NewFeedFetcher(feedfetcher.Config{
		UserAgent:            cfg.UserAgent,
		RequestTimeout:       cfg.RequestTimeout,
		MaxItems:             cfg.MaxItems,
		MaxHeadingLength:     200,
		MaxAge:               cfg.MaxAge,
		FutureDriftTolerance: 12 * time.Hour,
	})}
}

func (ff *feedFetcher) Fetch(ctx context.Context, url string) ([]FetchedItem, error) {
	items, err := ff.f.FetchAndProcess(ctx, url)
	if err != nil {
		return nil, err
	}

	out := make([]FetchedItem, 0, len(items))
	for _, item := range items {
		out = append(out, FetchedItem{
			URL:         item.URL,
			Headline:    item.Headline,
			Content:     item.Content,
			PublishedAt: item.PublishedAt,
		})
	}
	return out, nil
}
