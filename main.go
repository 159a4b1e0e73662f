package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/config"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/httpapi"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/scheduler"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/store"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/store/postgres"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/report"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

func main() {
	configPath := flag.String("config", getDefaultConfigPath(), "Path to TOML configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with API keys and overrides")
	logLevel := flag.String("log-level", "", "Logging level (debug, info, warn, error); overrides the config file")
	generateConfig := flag.Bool("generate-config", false, "Generate a sample configuration file and exit")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			logger.Fatal("Failed to generate sample config: %v", err)
		}
		logger.Info("Sample configuration file created at: %s", *configPath)
		logger.Info("Please edit the file to add your API keys and customize settings")
		return
	}

	cfg := loadConfig(*configPath, *envFile, flagWasSet("config"))
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Configuration validation failed: %v", err)
	}

	if err := logger.Initialize(cfg.Logging); err != nil {
		logger.Fatal("Failed to initialize logging: %v", err)
	}
	defer logger.Get().Close()

	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			logger.Fatal("Invalid -log-level: %v", err)
		}
		logger.SetLevel(level)
	}

	logger.Info("Snowlog - site conditions service")
	if name := logger.Get().FileName(); name != "" {
		logger.Info("Logging to %s", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := openStores(ctx, cfg)
	defer backends.close()

	provider := api.NewOpenWeatherClient(api.OpenWeatherConfig{
		APIKey:          cfg.APIs.OpenWeather,
		BaseURL:         cfg.Weather.BaseURL,
		Timeout:         cfg.Weather.Timeout.Duration,
		MaxRetries:      cfg.Weather.MaxRetries,
		RateLimit:       cfg.Weather.RateLimit,
		BreakerFailures: uint32(cfg.Weather.BreakerFailures),
		BreakerTimeout:  cfg.Weather.BreakerTimeout.Duration,
	})
	if !provider.Configured() {
		logger.Warn("No OpenWeather API key configured; weather will use fallback estimates")
	}

	resolver := weather.NewResolver(provider, backends.cache,
		weather.WithTTL(cfg.Weather.CacheTTL.Duration),
		weather.WithSource(cfg.Weather.Source))

	matcher := geo.NewMatcher(backends.events,
		geo.WithDefaultSource(cfg.Tracking.Source),
		geo.WithRadius(cfg.Tracking.DefaultRadiusKm, cfg.Tracking.MaxRadiusKm))

	builder := report.NewBuilder(resolver, matcher, newNarrator(cfg))

	sweeper := scheduler.New(backends.cache, cfg.Cache.SweepInterval.Duration)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to start cache sweeper: %v", err)
	}
	defer sweeper.Stop()

	app := httpapi.NewApp(httpapi.Options{
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}, httpapi.Services{
		Weather:  resolver,
		Tracking: matcher,
		Ingestor: geo.NewIngestor(backends.writer),
		Reports:  builder,
		Health:   backends.health,
	})

	go func() {
		logger.Info("Listening on %s", cfg.Server.Address())
		if err := app.Listen(cfg.Server.Address()); err != nil {
			logger.Error("HTTP server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout.Duration); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
}

// loadConfig reads the dotenv file and the TOML file, then applies
// environment overrides. A missing config file is only fatal when the path
// was given explicitly.
func loadConfig(path, envFile string, explicit bool) *config.Config {
	if err := config.LoadEnv(envFile); err != nil {
		logger.Warn("Ignoring env file: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		var configNotFound *config.ConfigNotFoundError
		if !errors.As(err, &configNotFound) || explicit {
			logger.Fatal("Failed to load configuration: %v", err)
		}
		logger.Warn("No configuration file at %s; using defaults and environment", path)
		cfg = config.Default()
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		logger.Fatal("Invalid environment override: %v", err)
	}
	return cfg
}

// stores bundles the selected backends.
type stores struct {
	cache  cacheBackend
	events geo.EventStore
	writer geo.EventWriter
	health func(context.Context) error
	close  func()
}

type cacheBackend interface {
	weather.CacheStore
	scheduler.ExpiredDeleter
}

// openStores selects the cache backend. Tracking events live in PostgreSQL
// when it is configured and in memory otherwise. A database that cannot be
// reached at startup degrades to the memory backend.
func openStores(ctx context.Context, cfg *config.Config) stores {
	mem := store.NewMemoryStore()
	selected := stores{cache: mem, events: mem, writer: mem, close: func() {}}

	switch cfg.Cache.Backend {
	case config.BackendFile:
		logger.Info("Weather cache file: %s", cfg.Cache.FilePath)
		selected.cache = store.NewFileCache(cfg.Cache.FilePath)

	case config.BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		log := logger.Get().Logger
		var pg *postgres.Store
		err := errorutil.ExecuteWithLogging(log, "database connect", func() error {
			var err error
			pg, err = postgres.Connect(connectCtx, cfg.Database.URL)
			return err
		})
		if err != nil {
			logger.Warn("Database unavailable, falling back to in-memory storage")
			return selected
		}
		if !cfg.Database.SkipSchema {
			err := errorutil.ExecuteWithLogging(log, "schema setup", func() error {
				return pg.EnsureSchema(connectCtx)
			})
			if err != nil {
				pg.Close()
				logger.Warn("Schema setup failed, falling back to in-memory storage")
				return selected
			}
		}
		logger.Info("Using PostgreSQL for weather cache and tracking events")
		selected = stores{cache: pg, events: pg, writer: pg, health: pg.Health, close: pg.Close}
	}

	return selected
}

// newNarrator returns nil when no Anthropic key is configured, which makes
// reports use the template narrative.
func newNarrator(cfg *config.Config) report.Narrator {
	client, err := api.NewNarrativeClient(api.ClaudeConfig{
		APIKey:      cfg.APIs.Anthropic,
		Model:       cfg.Claude.Model,
		MaxTokens:   cfg.Claude.MaxTokens,
		Temperature: cfg.Claude.Temperature,
		Timeout:     cfg.Claude.Timeout.Duration,
		MaxRetries:  cfg.Claude.MaxRetries,
		BaseDelay:   time.Duration(cfg.Claude.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Claude.MaxDelayMs) * time.Millisecond,
		RateLimit:   cfg.Claude.RateLimit,
	})
	if err != nil {
		if errors.Is(err, api.ErrNoClaudeKey) {
			logger.Warn("No Anthropic API key configured; reports will use the template narrative")
		} else {
			logger.Error("Narrative client unavailable: %v", err)
		}
		return nil
	}
	return client
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// getDefaultConfigPath returns a cross-platform default config path
func getDefaultConfigPath() string {
	if p := os.Getenv("SNOWLOG_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	return filepath.Clean("config.toml")
}
