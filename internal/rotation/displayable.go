package rotation

import (
	"github.com/samber/lo"

	"broadcast-graphics/onair/internal/models"
)

// FindNextDisplayable scans items circularly starting at start and returns the
// index of the first displayable item, or -1 when there is none.
func FindNextDisplayable(items []models.ContentItem, start int) int {
	n := len(items)
	if n == 0 {
		return -1
	}
	start = ((start % n) + n) % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if items[idx].Displayable() {
			return idx
		}
	}
	return -1
}

// CountDisplayable returns how many items can be put on screen.
func CountDisplayable(items []models.ContentItem) int {
	return lo.CountBy(items, func(item models.ContentItem) bool {
		return item.Displayable()
	})
}
