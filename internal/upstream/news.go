package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"broadcast-graphics/onair/internal/models"
)

// ErrAllProxiesFailed is returned when the direct request and every fallback
// proxy failed to reach the content feed.
var ErrAllProxiesFailed = errors.New("all proxy methods failed")

const (
	tickerFetchLimit = 10
	tickerMaxTitles  = 8
)

// Post is a post as published by the news API.
type Post struct {
	ID              int64          `json:"id"`
	Title           string         `json:"title"`
	Subtitle        string         `json:"subtitle,omitempty"`
	Date            string         `json:"date"`
	Permalink       string         `json:"permalink"`
	FeaturedImage   *FeaturedImage `json:"featured_image,omitempty"`
	FeaturedVideo   *FeaturedVideo `json:"featured_video,omitempty"`
	ContentRendered string         `json:"content_rendered,omitempty"`
	ContentText     string         `json:"content_text,omitempty"`
	Pinned          bool           `json:"pinned"`
	RuntimeType     string         `json:"runtime_type,omitempty"`
}

type FeaturedImage struct {
	ID       int64             `json:"id"`
	MimeType string            `json:"mime_type"`
	Sizes    models.ImageSizes `json:"sizes"`
}

type FeaturedVideo struct {
	ID       int64  `json:"id"`
	MimeType string `json:"mime_type"`
	Hosting  string `json:"hosting"`
	M3U8     string `json:"m3u8,omitempty"`
	MP4      string `json:"mp4"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// AsContentItem converts a post into a rotator item.
func (p Post) AsContentItem() models.ContentItem {
	item := models.ContentItem{
		ID:              strconv.FormatInt(p.ID, 10),
		Title:           p.Title,
		Subtitle:        p.Subtitle,
		Permalink:       p.Permalink,
		ContentRendered: p.ContentRendered,
		ContentText:     p.ContentText,
	}
	if p.FeaturedImage != nil {
		item.Image = p.FeaturedImage.Sizes
	}
	if p.FeaturedVideo != nil {
		item.VideoURL = p.FeaturedVideo.MP4
	}
	if ts, err := time.Parse(time.RFC3339, p.Date); err == nil {
		item.Date = ts
	} else if ts, err := time.Parse("2006-01-02T15:04:05", p.Date); err == nil {
		item.Date = ts
	}
	return item
}

type postsEnvelope struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Posts []Post `json:"posts"`
	} `json:"data"`
	Posts []Post `json:"posts"`
}

func decodePosts(body []byte) ([]Post, error) {
	var env postsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("error decoding posts: %w", err)
	}
	switch {
	case env.Data.Posts != nil:
		return env.Data.Posts, nil
	case env.Posts != nil:
		return env.Posts, nil
	}
	return nil, errors.New("invalid posts response: no posts array")
}

// PostsParams are the query parameters accepted by the posts API.
type PostsParams struct {
	Limit    int
	Offset   int
	Order    string
	OrderBy  string
	After    string
	Before   string
	Category []int
	Tag      string
	Search   string
	Type     string
}

// Values encodes the non-zero parameters.
func (p PostsParams) Values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("order", p.Order)
	set("orderby", p.OrderBy)
	set("after", p.After)
	set("before", p.Before)
	set("tag", p.Tag)
	set("search", p.Search)
	set("type", p.Type)
	if len(p.Category) > 0 {
		v.Set("category", strings.Join(lo.Map(p.Category, func(c int, _ int) string {
			return strconv.Itoa(c)
		}), ","))
	}
	return v
}

// NewsConfig configures a NewsClient.
type NewsConfig struct {
	PostsURL       string
	FeedURL        string
	Secret         string
	ProxyFallbacks []string
}

// NewsClient talks to the news posts API and its full-content feed.
type NewsClient struct {
	client *Client
	cfg    NewsConfig
	logger zerolog.Logger
}

func NewNewsClient(client *Client, cfg NewsConfig, logger zerolog.Logger) *NewsClient {
	return &NewsClient{client: client, cfg: cfg, logger: logger}
}

// FetchPosts returns posts from the posts API.
func (n *NewsClient) FetchPosts(ctx context.Context, params PostsParams) ([]Post, error) {
	u := n.cfg.PostsURL
	if q := params.Values().Encode(); q != "" {
		u += "?" + q
	}

	body, err := n.client.Get(ctx, u, http.Header{"Content-Type": {"application/json"}})
	if err != nil {
		return nil, err
	}
	return decodePosts(body)
}

// FeedQuery builds the content feed query: full content flags plus every
// forwarded parameter except the flags themselves.
func FeedQuery(forward url.Values) url.Values {
	q := url.Values{}
	q.Set("content_text", "true")
	q.Set("ff", "1")
	for key, vals := range forward {
		if key == "content_text" || key == "ff" || len(vals) == 0 {
			continue
		}
		q.Set(key, vals[len(vals)-1])
	}
	return q
}

// FetchFeed fetches the raw content feed document. The direct request carries
// the request secret; fallback proxies are tried in order after it fails.
func (n *NewsClient) FetchFeed(ctx context.Context, query url.Values) (json.RawMessage, error) {
	target := n.cfg.FeedURL + "?" + query.Encode()

	body, err := n.client.Get(ctx, target, secretHeader(n.cfg.Secret))
	if err == nil && json.Valid(body) {
		return body, nil
	}
	n.logger.Debug().Err(err).Msg("direct feed fetch failed, trying proxies")

	for _, proxy := range n.cfg.ProxyFallbacks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, err := n.client.Get(ctx, proxy+url.QueryEscape(target), nil)
		if err != nil || !json.Valid(body) {
			n.logger.Debug().Err(err).Str("proxy", proxy).Msg("proxy failed, trying next")
			continue
		}
		n.logger.Debug().Str("proxy", proxy).Msg("proxy succeeded")
		return body, nil
	}

	return nil, ErrAllProxiesFailed
}

// FetchPostsWithContent returns posts including their body text.
func (n *NewsClient) FetchPostsWithContent(ctx context.Context, params PostsParams) ([]Post, error) {
	body, err := n.FetchFeed(ctx, FeedQuery(params.Values()))
	if err != nil {
		return nil, err
	}
	return decodePosts(body)
}

// TickerTitles returns up to eight non-blank titles of the latest posts,
// falling back to canned headlines when the API is unavailable.
func (n *NewsClient) TickerTitles(ctx context.Context) []string {
	posts, err := n.FetchPosts(ctx, PostsParams{
		Limit:   tickerFetchLimit,
		OrderBy: "date",
		Order:   "desc",
		Type:    "any",
	})
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to fetch ticker posts, using fallback")
		posts = FallbackPosts(time.Now())
	}
	return TickerTitles(posts)
}

// TickerTitles keeps the non-blank titles, at most eight.
func TickerTitles(posts []Post) []string {
	titles := lo.FilterMap(posts, func(p Post, _ int) (string, bool) {
		return p.Title, strings.TrimSpace(p.Title) != ""
	})
	if len(titles) > tickerMaxTitles {
		titles = titles[:tickerMaxTitles]
	}
	return titles
}

var fallbackTitles = []string{
	"الانتخابات القادمة تشبه 2005 ـ الحكيم من اليوسفية: استحقاق مصيري يؤسس للاستقرار المستدام",
	"مشهد مؤلم.. مصرع عامل بإحدى شركات الكهرباء إثر تعرضه لصدمة كهربائية في الناصرية",
	"السليمانية تلتهب.. حملة اعتقالات تطال قيادات بارزة في الاتحاد الوطني الكردستاني",
	"محكمة استئناف في نيويورك تلغي غرامة على ترامب بنحو نصف مليار دولار",
	"خلال لقائه عدداً من ذوي الضحايا.. السيد الحكيم يدعو إلى تلافي تكرار حادثة الكوت",
}

// FallbackPosts returns the canned title-only posts shown when the API is down.
func FallbackPosts(now time.Time) []Post {
	date := now.UTC().Format(time.RFC3339)
	return lo.Map(fallbackTitles, func(title string, i int) Post {
		return Post{
			ID:          int64(i + 1),
			Title:       title,
			Date:        date,
			Permalink:   "#",
			RuntimeType: "default",
		}
	})
}

// ArticleSource feeds a rotator with the latest posts and their bodies.
type ArticleSource struct {
	news     *NewsClient
	limit    int
	enricher *Enricher
}

// NewArticleSource creates a source returning up to limit posts. enricher may be nil.
func NewArticleSource(news *NewsClient, limit int, enricher *Enricher) *ArticleSource {
	return &ArticleSource{news: news, limit: limit, enricher: enricher}
}

func (s *ArticleSource) Fetch(ctx context.Context) ([]models.ContentItem, error) {
	posts, err := s.news.FetchPostsWithContent(ctx, PostsParams{
		Limit:   s.limit,
		OrderBy: "date",
		Order:   "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching articles: %w", err)
	}

	items := lo.Map(posts, func(p Post, _ int) models.ContentItem {
		return p.AsContentItem()
	})
	if s.enricher != nil {
		s.enricher.Enrich(ctx, items)
	}
	return items, nil
}
