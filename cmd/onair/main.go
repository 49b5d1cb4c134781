package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"broadcast-graphics/onair/internal/config"
	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/importfeeds"
	"broadcast-graphics/onair/internal/ingest"
	"broadcast-graphics/onair/internal/preview"
	"broadcast-graphics/onair/internal/server"
	"broadcast-graphics/onair/internal/server/storage"
)

const usage = `Usage: onair [command] [options]
Commands: import, start, server, preview

For command-specific options, use: onair [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	files := config.DefaultConfigFiles
	if f := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); f != "" {
		files = []string{f}
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var run func(*config.Config) error
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database file (env: ONAIR_DB_PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (env: ONAIR_LOG_LEVEL)")

	switch os.Args[1] {
	case "import":
		var fresh bool
		fs.StringVar(&cfg.FeedsCSVPath, "csv", cfg.FeedsCSVPath, "Path to the feeds CSV file (env: ONAIR_FEEDS_CSV_PATH)")
		fs.BoolVar(&fresh, "fresh", false, "Delete the database before importing")
		run = func(cfg *config.Config) error { return runImport(cfg, fresh) }

	case "start":
		fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Interval between ingest cycles, 0 for one-shot mode (env: ONAIR_INTERVAL)")
		fs.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Number of feed workers, 0 for CPU count (env: ONAIR_WORKER_COUNT)")
		fs.IntVar(&cfg.RetentionDays, "retention", cfg.RetentionDays, "Number of days to retain headlines (env: ONAIR_RETENTION_DAYS)")
		run = runStart

	case "server":
		fs.StringVar(&cfg.ServerHost, "host", cfg.ServerHost, "Host to bind the server to (env: ONAIR_HOST)")
		fs.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port to listen on (env: ONAIR_PORT)")
		fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "Use the fast development rotation interval (env: ONAIR_DEV)")
		run = runServer

	case "preview":
		var rotator, logFile string
		fs.StringVar(&rotator, "rotator", config.RotatorArticles, "Rotator to follow: articles, me-wires or rss-wires")
		fs.StringVar(&logFile, "log-file", "", "Write logs to this file instead of discarding them")
		fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "Use the fast development rotation interval (env: ONAIR_DEV)")
		run = func(cfg *config.Config) error { return runPreview(cfg, rotator, logFile) }

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	fs.Parse(os.Args[2:])

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using debug")
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := run(cfg); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func openDB(path string) (*database.DB, error) {
	db, err := database.NewDB(database.NewConfig(path))
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// runImport loads wire feeds from the CSV file. With fresh set it asks for
// confirmation and deletes the existing database first.
func runImport(cfg *config.Config, fresh bool) error {
	if _, err := os.Stat(cfg.DBPath); err == nil && fresh {
		fmt.Printf("Database %s already exists. All data will be lost.\n", cfg.DBPath)
		fmt.Print("Delete and recreate? (y/N): ")

		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(answer) != "y" {
			log.Info().Msg("Operation canceled by user")
			return fmt.Errorf("operation canceled by user")
		}

		if err := database.DeleteDB(cfg.DBPath); err != nil {
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := importfeeds.NewImporter(db, config.RemoteFeedsURL).Import(ctx, cfg.FeedsCSVPath)
	if err != nil {
		return err
	}
	for _, e := range report.Errors {
		log.Warn().Msg(e)
	}
	return nil
}

// runStart ingests the wire feeds, once or periodically.
func runStart(cfg *config.Config) error {
	if cfg.Interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Dur("interval", cfg.Interval).Msg("Running in periodic mode")
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	in, err := ingest.New(db, ingest.NewFeedFetcher(ingest.FetcherConfig{}), cfg.WorkerCount)
	if err != nil {
		return fmt.Errorf("failed to initialize ingester: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := in.Run(ctx, cfg.Interval, cfg.RetentionDays); err != nil {
		return err
	}

	inserted, duplicates, failed := in.Stats()
	log.Info().
		Int64("inserted", inserted).
		Int64("duplicates", duplicates).
		Int64("failed_feeds", failed).
		Msg("Ingest stats")
	return nil
}

// runServer serves the graphics pages, proxies and rotators.
func runServer(cfg *config.Config) error {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return server.RunServer(context.Background(), db, cfg, log.Logger)
}

// runPreview hosts the rotators in-process and follows one in the terminal.
func runPreview(cfg *config.Config, rotator, logFile string) error {
	var out io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "2006-01-02 15:04:05"})

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := server.NewRegistry(ctx, cfg, server.NewUpstreams(cfg, log.Logger),
		storage.NewHeadlineRepository(db), storage.NewSnapshotRepository(db, storage.DefaultSnapshotKeep), log.Logger)
	if err != nil {
		return err
	}
	ctrl, ok := registry.Get(rotator)
	if !ok {
		return fmt.Errorf("unknown rotator %q (known: %s)", rotator, strings.Join(registry.Names(), ", "))
	}

	rotCtx, stopRotators := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- registry.Run(rotCtx) }()

	err = preview.Run(ctx, ctrl, cfg.EffectiveRotationInterval())
	stopRotators()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}
