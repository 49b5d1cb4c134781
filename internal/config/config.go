package config

import (
	"fmt"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	FeedsCSVPath string `hcl:"feeds_csv_path" env:"FEEDS_CSV_PATH" default:"./feeds.csv"`
	DBPath       string `hcl:"db_path" env:"DB_PATH" default:"./onair.db"`

	// Server settings
	ServerHost string `hcl:"host" env:"HOST" default:""`
	ServerPort int    `hcl:"port" env:"PORT" default:"8080"`
	APIKey     string `hcl:"api_key" env:"API_KEY"`

	// Ingest settings
	WorkerCount   int           `hcl:"workers" env:"WORKER_COUNT" default:"0"`
	Interval      time.Duration `hcl:"interval" env:"INTERVAL" default:"15m"`
	RetentionDays int           `hcl:"retention_days" env:"RETENTION_DAYS" default:"3"`

	// Upstream APIs
	NewsPostsURL       string        `hcl:"news_posts_url" env:"NEWS_POSTS_URL" default:"https://apirouter.964media.com/v1/ar/posts"`
	NewsFeedURL        string        `hcl:"news_feed_url" env:"NEWS_FEED_URL" default:"https://apirouter.964media.com/v1/ar/posts/feed"`
	NewsProxyFallbacks []string      `hcl:"news_proxy_fallbacks" env:"NEWS_PROXY_FALLBACKS"`
	WiresBaseURL       string        `hcl:"wires_base_url" env:"WIRES_BASE_URL" default:"https://wires.964media.com"`
	WiresRequestSecret string        `hcl:"wires_request_secret" env:"WIRES_REQUEST_SECRET"`
	IraqWiresURL       string        `hcl:"iraq_wires_url" env:"IRAQ_WIRES_URL" default:"https://iraqwires.com/wires/api/posts"`
	WeatherBaseURL     string        `hcl:"weather_base_url" env:"WEATHER_BASE_URL" default:"https://api.openweathermap.org"`
	WeatherAPIKey      string        `hcl:"weather_api_key" env:"WEATHER_API_KEY"`
	UpstreamTimeout    time.Duration `hcl:"upstream_timeout" env:"UPSTREAM_TIMEOUT" default:"10s"`
	UpstreamRPS        float64       `hcl:"upstream_rps" env:"UPSTREAM_RPS" default:"5"`
	BlockedSources     []string      `hcl:"blocked_sources" env:"BLOCKED_SOURCES"`
	EnrichBodies       bool          `hcl:"enrich_bodies" env:"ENRICH_BODIES" default:"false"`

	// Rotation settings
	ArticleLimit        int           `hcl:"article_limit" env:"ARTICLE_LIMIT" default:"15"`
	RotationInterval    time.Duration `hcl:"rotation_interval" env:"ROTATION_INTERVAL" default:"30s"`
	DevRotationInterval time.Duration `hcl:"dev_rotation_interval" env:"DEV_ROTATION_INTERVAL" default:"5s"`
	TransitionDuration  time.Duration `hcl:"transition_duration" env:"TRANSITION_DURATION" default:"2400ms"`
	RefreshInterval     time.Duration `hcl:"refresh_interval" env:"REFRESH_INTERVAL" default:"10m"`
	MediaReadyTimeout   time.Duration `hcl:"media_ready_timeout" env:"MEDIA_READY_TIMEOUT" default:"900ms"`
	ResumeDelay         time.Duration `hcl:"resume_delay" env:"RESUME_DELAY" default:"500ms"`
	WatchdogGrace       time.Duration `hcl:"watchdog_grace" env:"WATCHDOG_GRACE" default:"400ms"`

	// Log settings
	LogLevel string `hcl:"log_level" env:"LOG_LEVEL" default:"debug"`
	Dev      bool   `hcl:"dev" env:"DEV" default:"false"`
}

// DefaultConfig returns a configuration holding only the hardcoded defaults.
func DefaultConfig() *Config {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Load reads defaults, then the given HCL files (missing files are skipped),
// then ONAIR_* environment variables. Command-line flags are applied by the
// caller on top of the result.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = DefaultConfigFiles
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: EnvPrefix,
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// EffectiveRotationInterval returns the per-item countdown, using the fast
// interval in dev mode.
func (c *Config) EffectiveRotationInterval() time.Duration {
	if c.Dev && c.DevRotationInterval > 0 {
		return c.DevRotationInterval
	}
	return c.RotationInterval
}
