package rotation

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
)

// DefaultMediaReadyTimeout bounds how long a reveal waits for media.
const DefaultMediaReadyTimeout = 900 * time.Millisecond

// preloadTimeout caps advisory preloads, which nobody waits on.
const preloadTimeout = 30 * time.Second

// Gate signals when an incoming item's primary media is ready to be revealed.
// Readiness always arrives: on load, on load failure, or on timeout.
type Gate struct {
	prober  Prober
	timeout time.Duration
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewGate creates a gate. A nil clock uses the real clock; a non-positive
// timeout uses DefaultMediaReadyTimeout.
func NewGate(prober Prober, timeout time.Duration, clock clockwork.Clock, logger zerolog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultMediaReadyTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{
		prober:  prober,
		timeout: timeout,
		clock:   clock,
		logger:  logger,
	}
}

// Timeout returns the longest time Ready can take to fire.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Ready returns a channel closed once the item's media has loaded or failed,
// or the timeout elapsed, whichever comes first. Items without media are
// ready immediately. Cancelling ctx also closes the channel.
func (g *Gate) Ready(ctx context.Context, item models.ContentItem) <-chan struct{} {
	ready := make(chan struct{})

	url, kind := item.PrimaryMedia()
	if kind == models.MediaNone || g.prober == nil {
		close(ready)
		return ready
	}

	// The timer is created before returning so a caller advancing a fake
	// clock right after Ready cannot race it.
	timer := g.clock.NewTimer(g.timeout)
	probeCtx, cancel := context.WithCancel(ctx)
	probed := make(chan error, 1)

	go func() {
		probed <- g.prober.Probe(probeCtx, url, kind)
	}()

	go func() {
		defer close(ready)
		defer cancel()
		defer timer.Stop()

		select {
		case err := <-probed:
			if err != nil {
				g.logger.Debug().Err(err).Str("item", item.ID).Str("media", url).Msg("media failed, revealing anyway")
			}
		case <-timer.Chan():
			g.logger.Debug().Str("item", item.ID).Str("media", url).Dur("timeout", g.timeout).Msg("media not ready in time, revealing anyway")
		case <-ctx.Done():
		}
	}()

	return ready
}

// Preload starts loading the item's media in the background so a later Ready
// is fast. It never blocks and its outcome is ignored.
func (g *Gate) Preload(ctx context.Context, item models.ContentItem) {
	url, kind := item.PrimaryMedia()
	if kind == models.MediaNone || g.prober == nil {
		return
	}

	go func() {
		pctx, cancel := context.WithTimeout(ctx, preloadTimeout)
		defer cancel()
		if err := g.prober.Probe(pctx, url, kind); err != nil {
			g.logger.Debug().Err(err).Str("item", item.ID).Msg("preload failed")
		}
	}()
}
