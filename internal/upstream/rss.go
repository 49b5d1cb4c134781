package upstream

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"broadcast-graphics/onair/internal/models"
)

// HeadlineLister returns the newest stored RSS headlines.
type HeadlineLister interface {
	LatestHeadlines(ctx context.Context, limit int) ([]models.StoredHeadline, error)
}

// RSSSource feeds a rotator with the RSS wire headlines collected by the
// ingest pipeline.
type RSSSource struct {
	store HeadlineLister
	limit int
}

func NewRSSSource(store HeadlineLister, limit int) *RSSSource {
	return &RSSSource{store: store, limit: limit}
}

func (s *RSSSource) Fetch(ctx context.Context) ([]models.ContentItem, error) {
	rows, err := s.store.LatestHeadlines(ctx, s.limit)
	if err != nil {
		return nil, fmt.Errorf("error loading stored headlines: %w", err)
	}
	return lo.Map(rows, func(h models.StoredHeadline, _ int) models.ContentItem {
		item := h.AsWireHeadline().AsContentItem()
		item.ContentText = h.Summary
		return item
	}), nil
}
