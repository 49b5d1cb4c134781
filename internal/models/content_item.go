package models

import (
	"strings"
	"time"
)

// MediaKind identifies the primary media type of a content item.
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ImageSizes holds the renditions published for a featured image.
type ImageSizes struct {
	Thumbnail   string `json:"thumbnail,omitempty"`
	Small       string `json:"small,omitempty"`
	Medium      string `json:"medium,omitempty"`
	MediumLarge string `json:"medium_large,omitempty"`
	Large       string `json:"large,omitempty"`
	Full        string `json:"full,omitempty"`
}

// ContentItem is one displayable unit of a rotator working set.
// Items are immutable once returned by a content source.
type ContentItem struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	Date            time.Time  `json:"date"`
	Permalink       string     `json:"permalink,omitempty"`
	Image           ImageSizes `json:"image"`
	VideoURL        string     `json:"video_url,omitempty"`
	ContentRendered string     `json:"content_rendered,omitempty"`
	ContentText     string     `json:"content_text,omitempty"`
}

// PrimaryImage returns the preferred image rendition, or "" when the item has none.
func (c ContentItem) PrimaryImage() string {
	for _, u := range []string{c.Image.Large, c.Image.Full, c.Image.MediumLarge, c.Image.Medium} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Body returns the rendered markup when present, the plain text otherwise.
func (c ContentItem) Body() string {
	if c.ContentRendered != "" {
		return c.ContentRendered
	}
	return c.ContentText
}

// PrimaryMedia returns the media a reveal has to wait for. Video wins over image.
func (c ContentItem) PrimaryMedia() (string, MediaKind) {
	if c.VideoURL != "" {
		return c.VideoURL, MediaVideo
	}
	if img := c.PrimaryImage(); img != "" {
		return img, MediaImage
	}
	return "", MediaNone
}

// Displayable reports whether the item has anything to put on screen:
// an image, a video, a body or a non-blank title.
func (c ContentItem) Displayable() bool {
	return c.PrimaryImage() != "" ||
		c.VideoURL != "" ||
		c.Body() != "" ||
		strings.TrimSpace(c.Title) != ""
}
