package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/config"
	"broadcast-graphics/onair/internal/rotation"
	"broadcast-graphics/onair/internal/server/storage"
	"broadcast-graphics/onair/internal/upstream"
)

const (
	rssWiresLimit = 30
	enrichTimeout = 10 * time.Second
	seedTimeout   = 5 * time.Second
)

// Upstreams groups the clients of the third-party content APIs.
type Upstreams struct {
	News    *upstream.NewsClient
	Wires   *upstream.WiresClient
	Weather *upstream.WeatherClient
}

// NewUpstreams builds the upstream clients from cfg. All of them share one
// rate-limited HTTP client.
func NewUpstreams(cfg *config.Config, logger zerolog.Logger) Upstreams {
	client := upstream.NewClient(cfg.UpstreamTimeout, cfg.UpstreamRPS, logger)
	return Upstreams{
		News: upstream.NewNewsClient(client, upstream.NewsConfig{
			PostsURL:       cfg.NewsPostsURL,
			FeedURL:        cfg.NewsFeedURL,
			Secret:         cfg.WiresRequestSecret,
			ProxyFallbacks: cfg.NewsProxyFallbacks,
		}, logger),
		Wires: upstream.NewWiresClient(client, upstream.WiresConfig{
			BaseURL:        cfg.WiresBaseURL,
			Secret:         cfg.WiresRequestSecret,
			IraqWiresURL:   cfg.IraqWiresURL,
			BlockedSources: cfg.BlockedSources,
		}, logger),
		Weather: upstream.NewWeatherClient(client, cfg.WeatherBaseURL, cfg.WeatherAPIKey, logger),
	}
}

// NewRegistry creates the hosted rotators. Every source is cached in the
// snapshots table and each rotator starts from its last cached working set.
func NewRegistry(ctx context.Context, cfg *config.Config, up Upstreams, headlines storage.HeadlineRepository, snapshots storage.SnapshotRepository, logger zerolog.Logger) (*rotation.Registry, error) {
	var enricher *upstream.Enricher
	if cfg.EnrichBodies {
		enricher = upstream.NewEnricher(enrichTimeout, logger)
	}

	prober := rotation.NewHTTPProber(cfg.UpstreamTimeout, upstream.DefaultUserAgent)

	sources := []struct {
		name  string
		src   rotation.Source
		media bool
	}{
		{config.RotatorArticles, upstream.NewArticleSource(up.News, cfg.ArticleLimit, enricher), true},
		{config.RotatorMeWires, upstream.NewWiresSource(up.Wires, upstream.MeWiresQuery{}), false},
		{config.RotatorRSSWires, upstream.NewRSSSource(headlines, rssWiresLimit), false},
	}

	reg := rotation.NewRegistry()
	for _, s := range sources {
		cached := storage.NewCachedSource(s.name, s.src, snapshots, logger)

		seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
		seed := cached.Seed(seedCtx)
		cancel()

		opts := rotation.Options{
			Name:               s.name,
			InitialItems:       seed,
			RotationInterval:   cfg.EffectiveRotationInterval(),
			TransitionDuration: cfg.TransitionDuration,
			RefreshInterval:    cfg.RefreshInterval,
			ResumeDelay:        cfg.ResumeDelay,
			WatchdogGrace:      cfg.WatchdogGrace,
			RefreshOnStart:     true,
			KeepOnEmpty:        true,
			Logger:             logger,
		}
		if s.media {
			opts.Gate = rotation.NewGate(prober, cfg.MediaReadyTimeout, nil, logger)
		}

		if err := reg.Add(rotation.New(cached, opts)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
