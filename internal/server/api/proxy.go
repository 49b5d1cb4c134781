package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/upstream"
)

const (
	weatherCacheControl         = "public, s-maxage=300, stale-while-revalidate=600"
	weatherFallbackCacheControl = "public, s-maxage=60, stale-while-revalidate=120"
)

// ProxyHandler forwards graphics requests to the upstream news, wires and
// weather APIs. Apart from news-content, upstream failures are answered with
// fallback data and status 200 so graphics clients never break on air.
type ProxyHandler struct {
	news    *upstream.NewsClient
	wires   *upstream.WiresClient
	weather *upstream.WeatherClient
	now     func() time.Time
}

func NewProxyHandler(news *upstream.NewsClient, wires *upstream.WiresClient, weather *upstream.WeatherClient) *ProxyHandler {
	return &ProxyHandler{news: news, wires: wires, weather: weather, now: time.Now}
}

// NewsContent proxies the full-content posts feed.
func (h *ProxyHandler) NewsContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	body, err := h.news.FetchFeed(r.Context(), upstream.FeedQuery(r.URL.Query()))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("News content unavailable")
		if errors.Is(err, upstream.ErrAllProxiesFailed) {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"error":   "All proxy methods failed",
				"details": "Both direct fetch and proxy services were blocked",
			})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{
			"error":   "Internal Server Error",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, body)
}

// TickerResponse is the body of GET /api/ticker.
type TickerResponse struct {
	Titles []string `json:"titles"`
}

// Ticker returns the titles shown by the news ticker.
func (h *ProxyHandler) Ticker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, TickerResponse{Titles: h.news.TickerTitles(r.Context())})
}

// MeWires proxies the ME wires API, answering an empty list on failure.
func (h *ProxyHandler) MeWires(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		allowCORS(w, "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet:
	default:
		methodNotAllowed(w, r)
		return
	}

	q := r.URL.Query()
	query := upstream.MeWiresQuery{
		Country: q.Get("country"),
		Search:  q.Get("search"),
		Source:  q.Get("source"),
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	query.Page, _ = strconv.Atoi(q.Get("page"))

	headlines, err := h.wires.MeWires(r.Context(), query)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("me-wires proxy error")
	}
	if headlines == nil {
		headlines = []models.WireHeadline{}
	}

	allowCORS(w, "GET")
	writeJSON(w, r, http.StatusOK, headlines)
}

// IraqWires passes the Iraq wires document through, answering fallback
// headlines on failure.
func (h *ProxyHandler) IraqWires(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		allowCORS(w, "GET")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet:
	default:
		methodNotAllowed(w, r)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	allowCORS(w, "GET")
	body, err := h.wires.IraqWiresRaw(r.Context(), limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Iraq wires proxy error, serving fallback")
		writeJSON(w, r, http.StatusOK, upstream.IraqFallbackHeadlines(h.now()))
		return
	}
	writeJSON(w, r, http.StatusOK, body)
}

// Weather returns one city (?city=) or the city grid (?limit=).
func (h *ProxyHandler) Weather(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		allowCORS(w, "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet:
	default:
		methodNotAllowed(w, r)
		return
	}

	log := hlog.FromRequest(r)
	q := r.URL.Query()

	if city := q.Get("city"); city != "" {
		data, err := h.weather.City(r.Context(), city)
		if err == nil {
			w.Header().Set("Cache-Control", weatherCacheControl)
			writeJSON(w, r, http.StatusOK, data)
			return
		}
		log.Error().Err(err).Str("city", city).Msg("Weather lookup failed, serving fallback")
		h.weatherFallback(w, r)
		return
	}

	limit := upstream.MaxWeatherCities
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}

	grid, err := h.weather.Grid(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Weather grid failed, serving fallback")
		h.weatherFallback(w, r)
		return
	}
	w.Header().Set("Cache-Control", weatherCacheControl)
	writeJSON(w, r, http.StatusOK, grid)
}

func (h *ProxyHandler) weatherFallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", weatherFallbackCacheControl)
	w.Header().Set("X-Weather-Source", "fallback")
	writeJSON(w, r, http.StatusOK, upstream.GridFallback(h.now()))
}
