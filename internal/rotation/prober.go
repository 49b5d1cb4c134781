package rotation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"broadcast-graphics/onair/internal/models"
)

// Prober loads enough of a media resource to know it can be shown.
// Probe returns once the resource is usable or definitely failed.
type Prober interface {
	Probe(ctx context.Context, url string, kind models.MediaKind) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, url string, kind models.MediaKind) error

// Probe calls f(ctx, url, kind).
func (f ProberFunc) Probe(ctx context.Context, url string, kind models.MediaKind) error {
	return f(ctx, url, kind)
}

const (
	// videoMetadataBytes is enough of an mp4 to read its moov header in most encodes.
	videoMetadataBytes = 64 << 10
	maxImageBytes      = 20 << 20
)

// HTTPProber probes media over HTTP. Images are downloaded whole so the
// response lands in shared caches; videos only fetch their first bytes.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPProber creates a prober with its own client and timeout.
func NewHTTPProber(timeout time.Duration, userAgent string) *HTTPProber {
	return &HTTPProber{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, url string, kind models.MediaKind) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating probe request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	limit := int64(maxImageBytes)
	if kind == models.MediaVideo {
		limit = videoMetadataBytes
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", videoMetadataBytes-1))
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error probing %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("probing %s: unexpected status %d", kind, resp.StatusCode)
	}

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, limit)); err != nil {
		return fmt.Errorf("error reading %s: %w", kind, err)
	}
	return nil
}
