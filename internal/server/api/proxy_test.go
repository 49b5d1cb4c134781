package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/upstream"
)

type upstreamState struct {
	feedDown    bool
	wiresDown   bool
	iraqDown    bool
	weatherDown bool
}

func newProxy(t *testing.T, state *upstreamState) *ProxyHandler {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/posts/feed":
			if state.feedDown {
				http.Error(w, "blocked", http.StatusForbidden)
				return
			}
			fmt.Fprintf(w, `{"data":{"posts":[{"id":1,"title":"feed","content_text":%q}]}}`, r.URL.Query().Get("content_text"))
		case r.URL.Path == "/posts":
			fmt.Fprint(w, `{"posts":[{"id":1,"title":"one"},{"id":2,"title":""},{"id":3,"title":"three"}]}`)
		case r.URL.Path == "/wires/posts":
			if state.wiresDown {
				http.Error(w, "down", http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"posts":[{"id":7,"title":"wire &amp;quot;one&amp;quot;","source":{"name":"INA","slug":"ina"}}]}`)
		case r.URL.Path == "/iraq":
			if state.iraqDown {
				http.Error(w, "down", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `[{"id":"x","title":"iraq","source":{"name":"INA"}}]`)
		case strings.HasPrefix(r.URL.Path, "/data/"):
			if state.weatherDown {
				http.Error(w, "invalid key", http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"id":1,"name":"Baghdad","main":{"temp":40.4},"wind":{"speed":1}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(5*time.Second, 0, zerolog.Nop())
	news := upstream.NewNewsClient(client, upstream.NewsConfig{
		PostsURL: srv.URL + "/posts",
		FeedURL:  srv.URL + "/posts/feed",
	}, zerolog.Nop())
	wires := upstream.NewWiresClient(client, upstream.WiresConfig{
		BaseURL:      srv.URL + "/wires",
		Secret:       "s3cret",
		IraqWiresURL: srv.URL + "/iraq",
	}, zerolog.Nop())
	weather := upstream.NewWeatherClient(client, srv.URL, "key", zerolog.Nop())

	h := NewProxyHandler(news, wires, weather)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestNewsContent(t *testing.T) {
	state := &upstreamState{}
	h := newProxy(t, state)

	rec := httptest.NewRecorder()
	h.NewsContent(rec, httptest.NewRequest(http.MethodGet, "/api/news-content?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"content_text":"true"`) {
		t.Errorf("full content flag not forwarded: %s", rec.Body.String())
	}

	state.feedDown = true
	rec = httptest.NewRecorder()
	h.NewsContent(rec, httptest.NewRequest(http.MethodGet, "/api/news-content", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "All proxy methods failed" || body["details"] == "" {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestTicker(t *testing.T) {
	h := newProxy(t, &upstreamState{})

	rec := httptest.NewRecorder()
	h.Ticker(rec, httptest.NewRequest(http.MethodGet, "/api/ticker", nil))

	var resp TickerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Titles) != 2 || resp.Titles[0] != "one" || resp.Titles[1] != "three" {
		t.Errorf("titles = %v", resp.Titles)
	}
}

func TestMeWires(t *testing.T) {
	state := &upstreamState{}
	h := newProxy(t, state)

	rec := httptest.NewRecorder()
	h.MeWires(rec, httptest.NewRequest(http.MethodOptions, "/api/me-wires", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Methods") != "GET, OPTIONS" {
		t.Errorf("preflight: status %d headers %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.MeWires(rec, httptest.NewRequest(http.MethodGet, "/api/me-wires?limit=5", nil))
	var headlines []models.WireHeadline
	json.Unmarshal(rec.Body.Bytes(), &headlines)
	if len(headlines) != 1 || headlines[0].Title != `wire "one"` {
		t.Errorf("headlines = %+v", headlines)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	state.wiresDown = true
	rec = httptest.NewRecorder()
	h.MeWires(rec, httptest.NewRequest(http.MethodGet, "/api/me-wires", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("failure should answer 200 []: %d %s", rec.Code, rec.Body.String())
	}
}

func TestIraqWiresFallback(t *testing.T) {
	state := &upstreamState{}
	h := newProxy(t, state)

	rec := httptest.NewRecorder()
	h.IraqWires(rec, httptest.NewRequest(http.MethodGet, "/api/iraq-wires", nil))
	if !strings.Contains(rec.Body.String(), `"iraq"`) {
		t.Errorf("passthrough body = %s", rec.Body.String())
	}

	state.iraqDown = true
	rec = httptest.NewRecorder()
	h.IraqWires(rec, httptest.NewRequest(http.MethodGet, "/api/iraq-wires", nil))
	var headlines []models.WireHeadline
	json.Unmarshal(rec.Body.Bytes(), &headlines)
	if rec.Code != http.StatusOK || len(headlines) != 2 || headlines[0].ID != "fallback-1" {
		t.Errorf("fallback: %d %+v", rec.Code, headlines)
	}
}

func TestWeather(t *testing.T) {
	state := &upstreamState{}
	h := newProxy(t, state)

	rec := httptest.NewRecorder()
	h.Weather(rec, httptest.NewRequest(http.MethodGet, "/api/weather?city=Baghdad", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Cache-Control") != weatherCacheControl {
		t.Errorf("city: %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("X-Weather-Source") != "" {
		t.Error("live data must not be flagged as fallback")
	}

	state.weatherDown = true
	rec = httptest.NewRecorder()
	h.Weather(rec, httptest.NewRequest(http.MethodGet, "/api/weather", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback status = %d", rec.Code)
	}
	if rec.Header().Get("X-Weather-Source") != "fallback" || rec.Header().Get("Cache-Control") != weatherFallbackCacheControl {
		t.Errorf("fallback headers: %v", rec.Header())
	}
	var grid []models.Weather
	json.Unmarshal(rec.Body.Bytes(), &grid)
	if len(grid) != upstream.MaxWeatherCities {
		t.Errorf("fallback grid has %d cities", len(grid))
	}

	rec = httptest.NewRecorder()
	h.Weather(rec, httptest.NewRequest(http.MethodGet, "/api/weather?city=Baghdad", nil))
	if rec.Header().Get("X-Weather-Source") != "fallback" {
		t.Errorf("city fallback headers: %v", rec.Header())
	}
	grid = nil
	json.Unmarshal(rec.Body.Bytes(), &grid)
	if len(grid) != upstream.MaxWeatherCities {
		t.Errorf("failed city lookup should serve the fallback grid, got %d cities", len(grid))
	}

	rec = httptest.NewRecorder()
	h.Weather(rec, httptest.NewRequest(http.MethodPost, "/api/weather", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}
