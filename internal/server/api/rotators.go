package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
	"broadcast-graphics/onair/internal/server/storage"
)

// RotatorHandler exposes the state of the hosted rotators and their
// persisted working sets.
type RotatorHandler struct {
	registry  *rotation.Registry
	snapshots storage.SnapshotRepository
}

func NewRotatorHandler(registry *rotation.Registry, snapshots storage.SnapshotRepository) *RotatorHandler {
	return &RotatorHandler{registry: registry, snapshots: snapshots}
}

// List returns the current snapshot of every rotator.
func (h *RotatorHandler) List(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	out := make([]rotation.Snapshot, 0, len(names))
	for _, name := range names {
		if c, ok := h.registry.Get(name); ok {
			out = append(out, c.Snapshot())
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// Get returns the current snapshot of the rotator named in the path.
func (h *RotatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, c.Snapshot())
}

// Refresh asks the rotator named in the path to fetch its source now.
func (h *RotatorHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	c.Refresh()
	hlog.FromRequest(r).Info().Str("rotator", c.Name()).Msg("Refresh requested")
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (h *RotatorHandler) lookup(w http.ResponseWriter, r *http.Request) (*rotation.Controller, bool) {
	name := r.PathValue("name")
	c, ok := h.registry.Get(name)
	if !ok {
		hlog.FromRequest(r).Warn().Str("rotator", name).Msg("Unknown rotator")
		writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "unknown rotator"})
	}
	return c, ok
}

// SnapshotResponse is the body of GET /v1/snapshots/{source}.
type SnapshotResponse struct {
	Source    string               `json:"source"`
	FetchedAt time.Time            `json:"fetched_at"`
	ItemCount int                  `json:"item_count"`
	Items     []models.ContentItem `json:"items"`
}

// LatestSnapshot returns the last working set persisted for a source.
func (h *RotatorHandler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")

	snap, items, err := h.snapshots.Latest(r.Context(), source)
	if errors.Is(err, storage.ErrNoSnapshot) {
		writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "no snapshot"})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("source", source).Msg("Failed to load snapshot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, SnapshotResponse{
		Source:    snap.Source,
		FetchedAt: snap.FetchedAt,
		ItemCount: snap.ItemCount,
		Items:     items,
	})
}
