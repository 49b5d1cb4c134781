package rotation

import (
	"context"

	"broadcast-graphics/onair/internal/models"
)

// Source supplies the full, ordered working set of a rotator. Every call
// returns the whole list; the controller may call it repeatedly and discards
// the result on failure.
type Source interface {
	Fetch(ctx context.Context) ([]models.ContentItem, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.ContentItem, error)

// Fetch calls f(ctx).
func (f SourceFunc) Fetch(ctx context.Context) ([]models.ContentItem, error) {
	return f(ctx)
}
