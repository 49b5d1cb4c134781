package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"broadcast-graphics/onair/internal/models"
)

const (
	enrichConcurrency = 4
	maxPageBytes      = 4 << 20
	maxBodyRunes      = 1200
)

// Enricher fills in a plain-text body for items the upstream sent without
// one, by extracting the article text from the item's permalink.
type Enricher struct {
	http   *http.Client
	logger zerolog.Logger
}

func NewEnricher(timeout time.Duration, logger zerolog.Logger) *Enricher {
	return &Enricher{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Enrich updates items in place. Extraction failures leave the item untouched.
func (e *Enricher) Enrich(ctx context.Context, items []models.ContentItem) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)

	for i := range items {
		if items[i].Body() != "" || !fetchable(items[i].Permalink) {
			continue
		}
		g.Go(func() error {
			text, err := e.Extract(gctx, items[i].Permalink)
			if err != nil {
				e.logger.Debug().Err(err).Str("item", items[i].ID).Msg("body extraction failed")
				return nil
			}
			items[i].ContentText = text
			return nil
		})
	}
	_ = g.Wait()
}

// Extract downloads pageURL and returns its readable text, trimmed for the
// lower third.
func (e *Enricher) Extract(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), parsed)
	if err != nil {
		return "", fmt.Errorf("error parsing page: %w", err)
	}
	return truncateRunes(cleanText(article.TextContent), maxBodyRunes), nil
}

func fetchable(link string) bool {
	return strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
