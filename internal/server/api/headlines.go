package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/server/pagination"
	"broadcast-graphics/onair/internal/server/storage"
)

const (
	defaultLimit  = 100
	maxLimit      = 1000
	iso8601Format = time.RFC3339
)

// HeadlinesResponse is the body of GET /v1/headlines.
type HeadlinesResponse struct {
	Items      []models.StoredHeadline `json:"items"`
	NextCursor *string                 `json:"next_cursor,omitempty"`
}

// HeadlinesHandler serves the ingested RSS headlines and the feed list.
type HeadlinesHandler struct {
	repo storage.HeadlineRepository
}

func NewHeadlinesHandler(repo storage.HeadlineRepository) *HeadlinesHandler {
	return &HeadlinesHandler{repo: repo}
}

// GetHeadlines pages through headlines created after ?since= or after ?cursor=.
func (h *HeadlinesHandler) GetHeadlines(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	query := r.URL.Query()

	limit := defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	var since, cursorTimestamp *time.Time
	var cursorID *int64

	cursorStr, sinceStr := query.Get("cursor"), query.Get("since")
	switch {
	case cursorStr != "":
		c, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursorTimestamp, cursorID = &c.CreatedAt, &c.ID
	case sinceStr != "":
		parsed, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utc := parsed.UTC()
		since = &utc
	default:
		log.Warn().Msg("Missing required parameter: 'since' or 'cursor'")
		http.Error(w, "Missing required parameter: 'since' or 'cursor'", http.StatusBadRequest)
		return
	}

	// One extra row tells whether another page exists.
	items, err := h.repo.FetchHeadlines(r.Context(), limit+1, since, cursorTimestamp, cursorID)
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Str("since", sinceStr).Msg("Error fetching headlines from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := HeadlinesResponse{Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
		last := resp.Items[limit-1]
		next := pagination.EncodeCursor(last.CreatedAt, last.ID)
		resp.NextCursor = &next
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ExportFeeds writes every feed as CSV, in the column layout the importer reads.
func (h *HeadlinesHandler) ExportFeeds(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	feeds, err := h.repo.AllFeeds(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to query feeds")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=feeds.csv")

	out := csv.NewWriter(w)
	if err := out.Write([]string{"url", "name", "language", "status"}); err != nil {
		log.Error().Err(err).Msg("Failed to write CSV header")
		return
	}
	for _, f := range feeds {
		if err := out.Write([]string{f.URL, f.Name.String, f.Language.String, f.Status}); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV record")
			return
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		log.Error().Err(err).Msg("Error flushing CSV data")
		return
	}
	log.Info().Int("feed_count", len(feeds)).Msg("Exported feeds as CSV")
}
