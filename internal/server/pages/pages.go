// Package pages renders the on-air graphics pages. Each page is rendered with
// its initial data inline so it shows content before its first refresh.
package pages

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"broadcast-graphics/onair/internal/config"
	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
	"broadcast-graphics/onair/internal/upstream"
)

//go:embed templates/*.html
var files embed.FS

const seedTimeout = 5 * time.Second

// Link is one entry of the index page.
type Link struct {
	Path  string
	Title string
}

// Index lists the graphics pages.
var Index = []Link{
	{Path: "/article-01", Title: "Article rotator"},
	{Path: "/news-ticker", Title: "News ticker"},
	{Path: "/weather", Title: "Weather grid"},
	{Path: "/me-wires", Title: "ME wires"},
	{Path: "/iraq-wires", Title: "Iraq wires"},
}

type pageData struct {
	Title    string
	Rotator  string
	Endpoint string
	Links    []Link
	Seed     template.JS
}

// Pages serves the graphics pages.
type Pages struct {
	tmpl     *template.Template
	registry *rotation.Registry
	news     *upstream.NewsClient
	wires    *upstream.WiresClient
	weather  *upstream.WeatherClient
	now      func() time.Time
}

func New(registry *rotation.Registry, news *upstream.NewsClient, wires *upstream.WiresClient, weather *upstream.WeatherClient) (*Pages, error) {
	tmpl, err := template.ParseFS(files, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Pages{
		tmpl:     tmpl,
		registry: registry,
		news:     news,
		wires:    wires,
		weather:  weather,
		now:      time.Now,
	}, nil
}

// Register adds the page routes to mux.
func (p *Pages) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", p.index)
	mux.HandleFunc("GET /article-01", p.article)
	mux.HandleFunc("GET /news-ticker", p.ticker)
	mux.HandleFunc("GET /news-ticker-2", p.ticker)
	mux.HandleFunc("GET /news-ticker-3", p.ticker)
	mux.HandleFunc("GET /weather", p.weatherGrid)
	mux.HandleFunc("GET /me-wires", p.meWires)
	mux.HandleFunc("GET /iraq-wires", p.iraqWires)
}

func (p *Pages) index(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "index.html", pageData{Title: "On-air graphics", Links: Index}, nil)
}

func (p *Pages) article(w http.ResponseWriter, r *http.Request) {
	var seed any
	if c, ok := p.registry.Get(config.RotatorArticles); ok {
		seed = c.Snapshot()
	}
	p.render(w, r, "article.html", pageData{Title: "Article", Rotator: config.RotatorArticles}, seed)
}

func (p *Pages) ticker(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()
	p.render(w, r, "ticker.html", pageData{Title: "News ticker"}, p.news.TickerTitles(ctx))
}

func (p *Pages) weatherGrid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	grid, err := p.weather.Grid(ctx, upstream.MaxWeatherCities)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Weather seed unavailable, using fallback")
		grid = upstream.GridFallback(p.now())
	}
	p.render(w, r, "weather.html", pageData{Title: "Weather"}, grid)
}

func (p *Pages) meWires(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	headlines, err := p.wires.MeWires(ctx, upstream.MeWiresQuery{})
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("ME wires seed unavailable")
		headlines = []models.WireHeadline{}
	}
	p.render(w, r, "wires.html", pageData{Title: "ME wires", Endpoint: "/api/me-wires"}, headlines)
}

func (p *Pages) iraqWires(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	headlines, err := p.wires.IraqWires(ctx, upstream.DefaultWiresLimit)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Iraq wires seed unavailable, using fallback")
		headlines = upstream.IraqFallbackHeadlines(p.now())
	}
	p.render(w, r, "wires.html", pageData{Title: "Iraq wires", Endpoint: "/api/iraq-wires"}, headlines)
}

// render executes name into a buffer so a template failure still yields a
// clean 500.
func (p *Pages) render(w http.ResponseWriter, r *http.Request, name string, data pageData, seed any) {
	log := hlog.FromRequest(r)

	if seed != nil {
		raw, err := json.Marshal(seed)
		if err != nil {
			log.Error().Err(err).Str("page", name).Msg("Failed to encode page seed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		data.Seed = template.JS(raw)
	} else {
		data.Seed = "null"
	}

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("page", name).Msg("Failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
