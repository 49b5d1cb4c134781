package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tomakado/containers/set"

	"broadcast-graphics/onair/internal/models"
)

const (
	DefaultWiresLimit   = 20
	DefaultWiresCountry = "global"
)

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// Booleans and objects carry nothing useful here.
		*f = ""
		return nil
	}
	*f = flexString(n.String())
	return nil
}

type wireSource struct {
	ID        flexString `json:"id"`
	Name      flexString `json:"name"`
	Slug      flexString `json:"slug"`
	Icon      flexString `json:"icon"`
	Permalink flexString `json:"permalink"`
}

type wirePost struct {
	ID        flexString  `json:"id"`
	Title     flexString  `json:"title"`
	Date      flexString  `json:"date"`
	Permalink flexString  `json:"permalink"`
	Source    *wireSource `json:"source"`
}

type wiresResponse struct {
	FoundPosts  int        `json:"found_posts"`
	Posts       []wirePost `json:"posts"`
	PinnedPosts []wirePost `json:"pinned_posts"`
}

// NormalizeWires converts a wires API document into headlines. Pinned posts
// are only used when there are no regular posts; headlines without a title
// or a source name are dropped.
func NormalizeWires(body []byte) ([]models.WireHeadline, error) {
	var resp wiresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error decoding wires: %w", err)
	}

	posts := resp.Posts
	if len(posts) == 0 {
		posts = resp.PinnedPosts
	}

	headlines := lo.Map(posts, func(p wirePost, _ int) models.WireHeadline {
		src := wireSource{}
		if p.Source != nil {
			src = *p.Source
		}
		return models.WireHeadline{
			ID:    string(p.ID),
			Title: decodeEntities(string(p.Title)),
			Date:  string(p.Date),
			Source: models.WireSource{
				Name:      decodeEntities(string(src.Name)),
				Slug:      string(src.Slug),
				Icon:      string(src.Icon),
				Permalink: string(src.Permalink),
				Type:      "rss",
			},
			Permalink: string(p.Permalink),
			Related:   []any{},
		}
	})

	return lo.Filter(headlines, func(h models.WireHeadline, _ int) bool {
		return h.Title != "" && h.Source.Name != ""
	}), nil
}

// decodeEntities decodes HTML entities, including the double-encoded ones
// some wire feeds emit (&amp;quot;).
func decodeEntities(s string) string {
	out := html.UnescapeString(s)
	if out != s && strings.Contains(out, "&") {
		out = html.UnescapeString(out)
	}
	return strings.ReplaceAll(out, "\u00a0", " ")
}

// MeWiresQuery holds the parameters forwarded to the ME wires API.
type MeWiresQuery struct {
	Country string
	Limit   int
	Page    int
	Search  string
	Source  string
}

// Values applies the defaults and encodes the query.
func (q MeWiresQuery) Values() url.Values {
	v := url.Values{}
	country := q.Country
	if country == "" {
		country = DefaultWiresCountry
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultWiresLimit
	}
	v.Set("country", country)
	v.Set("limit", strconv.Itoa(limit))
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Source != "" {
		v.Set("source", q.Source)
	}
	return v
}

// WiresConfig configures a WiresClient.
type WiresConfig struct {
	BaseURL      string
	Secret       string
	IraqWiresURL string
	// BlockedSources lists source slugs that never reach the screen.
	BlockedSources []string
}

// WiresClient reads the ME wires and Iraq wires APIs.
type WiresClient struct {
	client    *Client
	cfg       WiresConfig
	isBlocked func(slug string) bool
	logger    zerolog.Logger
}

func NewWiresClient(client *Client, cfg WiresConfig, logger zerolog.Logger) *WiresClient {
	if cfg.Secret == "" {
		logger.Warn().Msg("wires request secret is not configured")
	}
	blocked := set.New(cfg.BlockedSources...)
	return &WiresClient{
		client:    client,
		cfg:       cfg,
		isBlocked: blocked.Contains,
		logger:    logger,
	}
}

// MeWires returns normalized ME wires headlines.
func (w *WiresClient) MeWires(ctx context.Context, q MeWiresQuery) ([]models.WireHeadline, error) {
	u := strings.TrimRight(w.cfg.BaseURL, "/") + "/posts?" + q.Values().Encode()

	body, err := w.client.Get(ctx, u, secretHeader(w.cfg.Secret))
	if err != nil {
		return nil, err
	}

	headlines, err := NormalizeWires(body)
	if err != nil {
		return nil, err
	}
	return w.filterBlocked(headlines), nil
}

// IraqWiresRaw returns the Iraq wires document untouched.
func (w *WiresClient) IraqWiresRaw(ctx context.Context, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = DefaultWiresLimit
	}
	u := w.cfg.IraqWiresURL + "?limit=" + strconv.Itoa(limit)

	body, err := w.client.Get(ctx, u, http.Header{"Content-Type": {"application/json"}})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("iraq wires: invalid JSON response")
	}
	return body, nil
}

// IraqWires returns Iraq wires headlines.
func (w *WiresClient) IraqWires(ctx context.Context, limit int) ([]models.WireHeadline, error) {
	body, err := w.IraqWiresRaw(ctx, limit)
	if err != nil {
		return nil, err
	}
	var headlines []models.WireHeadline
	if err := json.Unmarshal(body, &headlines); err != nil {
		return nil, fmt.Errorf("error decoding iraq wires: %w", err)
	}
	return w.filterBlocked(headlines), nil
}

func (w *WiresClient) filterBlocked(headlines []models.WireHeadline) []models.WireHeadline {
	if len(w.cfg.BlockedSources) == 0 {
		return headlines
	}
	return lo.Reject(headlines, func(h models.WireHeadline, _ int) bool {
		return w.isBlocked(h.Source.Slug)
	})
}

// IraqFallbackHeadlines are served when the Iraq wires API is unavailable.
func IraqFallbackHeadlines(now time.Time) []models.WireHeadline {
	date := now.UTC().Format(time.RFC3339)
	return []models.WireHeadline{
		{
			ID:    "fallback-1",
			Title: "وزارة الصحة: ارتفاع نسب التطعيم في المحافظات",
			Date:  date,
			Source: models.WireSource{
				Name:      "وزارة الصحة",
				Slug:      "ministry-health",
				Permalink: "#",
				Type:      "government",
			},
			Permalink: "#",
			Related:   []any{},
		},
		{
			ID:    "fallback-2",
			Title: "المرور: خطة لتحسين انسيابية حركة السير في العاصمة",
			Date:  date,
			Source: models.WireSource{
				Name:      "مديرية المرور العامة",
				Slug:      "traffic-dept",
				Permalink: "#",
				Type:      "government",
			},
			Permalink: "#",
			Related:   []any{},
		},
	}
}

// WiresSource feeds a rotator with ME wires headlines.
type WiresSource struct {
	wires *WiresClient
	query MeWiresQuery
}

func NewWiresSource(wires *WiresClient, query MeWiresQuery) *WiresSource {
	return &WiresSource{wires: wires, query: query}
}

func (s *WiresSource) Fetch(ctx context.Context) ([]models.ContentItem, error) {
	headlines, err := s.wires.MeWires(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("error fetching wires: %w", err)
	}
	return lo.Map(headlines, func(h models.WireHeadline, _ int) models.ContentItem {
		return h.AsContentItem()
	}), nil
}
