package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"broadcast-graphics/onair/internal/config"
	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/rotation"
	"broadcast-graphics/onair/internal/server/api"
	"broadcast-graphics/onair/internal/server/live"
	"broadcast-graphics/onair/internal/server/pages"
	"broadcast-graphics/onair/internal/server/storage"
)

const shutdownTimeout = 30 * time.Second

// requireKey rejects /v1 requests whose X-API-Key header does not match key.
func requireKey(key string, next http.Handler) http.Handler {
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			hlog.FromRequest(r).Warn().Bool("key_present", got != "").Msg("Rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `APIKey header="X-API-Key"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Deps are the collaborators of the HTTP handler.
type Deps struct {
	DB        api.Pinger
	Registry  *rotation.Registry
	Headlines storage.HeadlineRepository
	Snapshots storage.SnapshotRepository
	Upstreams Upstreams
}

// NewHandler builds the routes and the logging middleware chain. A non-empty
// apiKey protects the /v1 routes.
func NewHandler(d Deps, logger zerolog.Logger, apiKey string) (http.Handler, error) {
	headlines := api.NewHeadlinesHandler(d.Headlines)
	rotators := api.NewRotatorHandler(d.Registry, d.Snapshots)
	proxy := api.NewProxyHandler(d.Upstreams.News, d.Upstreams.Wires, d.Upstreams.Weather)

	site, err := pages.New(d.Registry, d.Upstreams.News, d.Upstreams.Wires, d.Upstreams.Weather)
	if err != nil {
		return nil, err
	}

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/headlines", headlines.GetHeadlines)
	v1.HandleFunc("GET /v1/feeds", headlines.ExportFeeds)
	v1.HandleFunc("GET /v1/snapshots/{source}", rotators.LatestSnapshot)

	mux := http.NewServeMux()
	if apiKey != "" {
		mux.Handle("/v1/", requireKey(apiKey, v1))
	} else {
		logger.Warn().Msg("No API key configured, /v1 is open")
		mux.Handle("/v1/", v1)
	}

	// Proxy handlers answer OPTIONS and reject other methods themselves.
	mux.HandleFunc("/api/news-content", proxy.NewsContent)
	mux.HandleFunc("/api/ticker", proxy.Ticker)
	mux.HandleFunc("/api/me-wires", proxy.MeWires)
	mux.HandleFunc("/api/iraq-wires", proxy.IraqWires)
	mux.HandleFunc("/api/weather", proxy.Weather)

	mux.HandleFunc("GET /api/rotators", rotators.List)
	mux.HandleFunc("GET /api/rotators/{name}", rotators.Get)
	mux.HandleFunc("POST /api/rotators/{name}/refresh", rotators.Refresh)
	mux.Handle("GET /ws/rotators/{name}", live.NewHandler(d.Registry))
	mux.HandleFunc("GET /health", api.Health(d.DB))
	site.Register(mux)

	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)
	return h, nil
}

// RunServer hosts the rotators and serves HTTP until ctx is cancelled or the
// process receives SIGINT or SIGTERM. Rotators are stopped after the HTTP
// server has drained.
func RunServer(ctx context.Context, db *database.DB, cfg *config.Config, logger zerolog.Logger) error {
	logger = logger.With().Str("service", "onair").Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	headlines := storage.NewHeadlineRepository(db)
	snapshots := storage.NewSnapshotRepository(db, storage.DefaultSnapshotKeep)
	up := NewUpstreams(cfg, logger)

	registry, err := NewRegistry(ctx, cfg, up, headlines, snapshots, logger)
	if err != nil {
		return err
	}

	handler, err := NewHandler(Deps{
		DB:        db,
		Registry:  registry,
		Headlines: headlines,
		Snapshots: snapshots,
		Upstreams: up,
	}, logger, cfg.APIKey)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: WebSocket streams are long-lived and set their
		// own write deadlines.
		IdleTimeout: 120 * time.Second,
	}

	// Rotators outlive ctx so they keep serving while HTTP drains.
	rotCtx, stopRotators := context.WithCancel(context.Background())
	defer stopRotators()
	rotators := new(errgroup.Group)
	rotators.Go(func() error { return registry.Run(rotCtx) })

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", httpServer.Addr).Strs("rotators", registry.Names()).Msg("Listening")
		listenErr <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-listenErr:
		runErr = fmt.Errorf("listen on %s: %w", httpServer.Addr, err)
	case <-ctx.Done():
		logger.Info().Dur("grace", shutdownTimeout).Msg("Draining HTTP connections")
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := httpServer.Shutdown(drainCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Drain incomplete, closing remaining connections")
			httpServer.Close()
		}
		if err := <-listenErr; !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	stopRotators()
	if err := rotators.Wait(); err != nil && runErr == nil {
		runErr = fmt.Errorf("rotators: %w", err)
	}
	logger.Info().Err(runErr).Msg("Server stopped")
	return runErr
}
