package models

import "time"

// WireSource describes the agency or outlet behind a wire headline.
type WireSource struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Icon      string `json:"icon"`
	Permalink string `json:"permalink"`
	Type      string `json:"type"`
}

// WireHeadline is the normalized shape served to the headline feeds.
type WireHeadline struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Date      string     `json:"date"`
	Source    WireSource `json:"source"`
	Permalink string     `json:"permalink"`
	Related   []any      `json:"related"`
}

// AsContentItem converts a headline into a title-only content item so that
// wire feeds can drive a rotator.
func (h WireHeadline) AsContentItem() ContentItem {
	item := ContentItem{
		ID:        h.ID,
		Title:     h.Title,
		Subtitle:  h.Source.Name,
		Permalink: h.Permalink,
	}
	if ts, err := time.Parse(time.RFC3339, h.Date); err == nil {
		item.Date = ts
	}
	return item
}
