package models

import (
	"database/sql"
	"time"
)

// WireFeed represents a row in the 'feeds' table: an RSS wire ingested by the
// start command.
type WireFeed struct {
	ID              int64          `db:"id"`
	URL             string         `db:"url"`
	Name            sql.NullString `db:"name"`
	Language        sql.NullString `db:"language"`
	Status          string         `db:"status"`
	FailuresCount   int            `db:"failures_count"`
	LastError       sql.NullString `db:"last_error"`
	LastRetrievedAt sql.NullTime   `db:"last_retrieved_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	DeletedAt       sql.NullTime   `db:"deleted_at"`
}

// NewWireFeed creates a new WireFeed with default values
func NewWireFeed() *WireFeed {
	now := time.Now()
	return &WireFeed{
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName returns the configured feed name, falling back to its URL.
func (f WireFeed) DisplayName() string {
	if f.Name.Valid && f.Name.String != "" {
		return f.Name.String
	}
	return f.URL
}

// StoredHeadline represents a row in the 'headlines' table
type StoredHeadline struct {
	ID          int64     `db:"id" json:"id"`
	URL         string    `db:"url" json:"url"`
	FeedID      int64     `db:"feed_id" json:"feed_id"`
	SourceName  string    `db:"source_name" json:"source_name"`
	Title       string    `db:"title" json:"title"`
	Summary     string    `db:"summary" json:"summary,omitempty"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AsWireHeadline converts a stored RSS headline into the wire shape used by
// the headline feeds.
func (h StoredHeadline) AsWireHeadline() WireHeadline {
	return WireHeadline{
		ID:    h.URL,
		Title: h.Title,
		Date:  h.PublishedAt.UTC().Format(time.RFC3339),
		Source: WireSource{
			Name: h.SourceName,
			Type: "rss",
		},
		Permalink: h.URL,
		Related:   []any{},
	}
}

// Snapshot represents a row in the 'snapshots' table: the last working set a
// content source returned, kept to seed rotators after a restart.
type Snapshot struct {
	ID        int64     `db:"id"`
	Source    string    `db:"source"`
	Items     []byte    `db:"items"` // JSON encoded []ContentItem
	ItemCount int       `db:"item_count"`
	FetchedAt time.Time `db:"fetched_at"`
}
