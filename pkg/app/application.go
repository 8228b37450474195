package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/imagegate/internal/freepik"
	"github.com/osvaldoandrade/imagegate/internal/metrics"
	"github.com/osvaldoandrade/imagegate/internal/middleware"
	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/internal/ratelimit"
	"github.com/osvaldoandrade/imagegate/internal/services"
	"github.com/osvaldoandrade/imagegate/pkg/auth"
	"github.com/osvaldoandrade/imagegate/pkg/config"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	// Auth providers and storage backends register themselves.
	_ "github.com/osvaldoandrade/imagegate/pkg/auth/jwks"
	_ "github.com/osvaldoandrade/imagegate/pkg/auth/static"
	_ "github.com/osvaldoandrade/imagegate/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/imagegate/pkg/persistence/redis"
	_ "github.com/osvaldoandrade/imagegate/pkg/persistence/sqlstore"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Logger      *slog.Logger
	Storage     persistence.PluginPersistence
	Generation  services.GenerationService
	Assets      services.AssetService
	Audit       services.AssetAuditService
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter

	generator services.Generator
	logOutput io.Writer
	redis     *redis.Client
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom validator for the generation endpoints.
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithStorage replaces the configured storage backend.
func WithStorage(storage persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Storage = storage
		return nil
	}
}

// WithGenerator replaces the Freepik client.
func WithGenerator(gen services.Generator) ApplicationOption {
	return func(app *Application) error {
		app.generator = gen
		return nil
	}
}

// WithLogOutput redirects the structured log stream (stdout by default).
func WithLogOutput(w io.Writer) ApplicationOption {
	return func(app *Application) error {
		app.logOutput = w
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	logger := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)
	app.Logger = logger
	loc := cfg.Location()

	if app.Storage == nil {
		storage, err := openStorage(cfg, loc)
		if err != nil {
			return nil, err
		}
		app.Storage = storage
	}
	images := app.Storage.ImageStorage()
	metrics.RegisterStorageCollector(storageSource{app.Storage}, cfg.Storage.Backend, logger)

	if cfg.RedisAddr != "" {
		app.redis = providers.NewRedisProvider(providers.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := providers.PingRedis(context.Background(), app.redis, 2*time.Second); err != nil {
			logger.Warn("redis unreachable at startup; rate limiting fails open until it recovers", "err", err)
		}
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.redis)
	} else {
		app.RateLimiter = ratelimit.NewLocalLimiter()
	}

	if app.generator == nil {
		app.generator = freepik.NewClient(freepik.Config{
			APIKey:      cfg.FreepikAPIKey,
			BaseURL:     cfg.FreepikBaseURL,
			HTTPTimeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		}, logger)
	}

	uploader := providers.NewLocalUploader(cfg.Assets.Root)
	downloader := providers.NewHTTPDownloader(
		time.Duration(cfg.HTTPTimeoutSeconds)*time.Second,
		int64(cfg.Assets.MaxDownloadMB)<<20,
	)
	app.Generation = services.NewGenerationService(app.generator, services.GenerationSettings{
		Template:        cfg.Template(),
		MaxPromptLength: cfg.MaxPromptLength,
		Defaults:        domain.GenerationOptions{
			Resolution:  cfg.DefaultResolution,
			AspectRatio: cfg.DefaultAspectRatio,
			Model:       cfg.DefaultModel,
		},
		AllowedResolutions:  cfg.AllowedResolutions,
		AllowedAspectRatios: cfg.AllowedAspectRatios,
		AllowedModels:       cfg.AllowedModels,
		PollInterval:        cfg.PollInterval(),
		PollMaxInterval:     cfg.PollMaxInterval(),
		PollPolicy:          cfg.PollPolicy,
		MaxAttempts:         cfg.PollMaxAttempts,
		Deadline:            cfg.GenerationDeadline(),
		Mirror:              cfg.Assets.MirrorGenerated,
		MirrorDir:           cfg.Assets.MirrorDir,
	}, images, uploader, downloader, logger, time.Now)
	app.Assets = services.NewAssetService(images, cfg.Assets.Root, logger)
	app.Audit = services.NewAssetAuditService(images, cfg.Assets.Root, cfg.Assets.AuditCron, logger)

	if app.Validator == nil && cfg.Auth.Provider != "" {
		raw, err := cfg.AuthConfigJSON()
		if err != nil {
			return nil, err
		}
		validator, err := auth.NewValidator(auth.ProviderConfig{Type: cfg.Auth.Provider, Config: raw})
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	logger.Info("application initialized",
		"storage", cfg.Storage.Backend,
		"auth", cfg.Auth.Provider,
		"mirror", cfg.Assets.MirrorGenerated,
		"pollPolicy", cfg.PollPolicy,
		"deadline", cfg.GenerationDeadline().String(),
	)
	return app, nil
}

// Close releases storage and Redis connections.
func (a *Application) Close() error {
	var firstErr error
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "imagegate", "env", cfg.Env)
}

func openStorage(cfg *config.Config, loc *time.Location) (persistence.PluginPersistence, error) {
	var backendCfg any = map[string]any{}
	switch cfg.Storage.Backend {
	case "redis":
		backendCfg = map[string]any{"addr": cfg.RedisAddr, "password": cfg.RedisPassword}
	case "postgres", "sqlite":
		backendCfg = map[string]any{"dsn": cfg.Storage.DSN}
	}
	raw, err := json.Marshal(backendCfg)
	if err != nil {
		return nil, err
	}
	storage, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: cfg.Storage.Backend, Config: raw},
		persistence.PluginConfig{Timezone: loc},
	)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	return storage, nil
}

// storageSource feeds the storage collector from a persistence plugin.
type storageSource struct{ p persistence.PluginPersistence }

func (s storageSource) Count(ctx context.Context) (int64, error) {
	return s.p.ImageStorage().Count(ctx)
}

func (s storageSource) Health(ctx context.Context) error {
	return s.p.Health(ctx)
}
