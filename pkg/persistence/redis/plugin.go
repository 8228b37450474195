package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/internal/repository"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client *redis.Client
	repo   repository.ImageRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, fmt.Errorf("redis persistence config: %w", err)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis persistence config: addr is required")
	}

	client := providers.NewRedisProvider(providers.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Plugin{
		client: client,
		repo:   repository.NewImageRepository(client, config.Timezone),
	}, nil
}

// ImageStorage returns the image storage implementation
func (p *Plugin) ImageStorage() persistence.ImageStorage {
	return &imageStorageAdapter{repo: p.repo}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return providers.PingRedis(ctx, p.client, 2*time.Second)
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

// imageStorageAdapter maps repository errors onto persistence sentinels.
type imageStorageAdapter struct {
	repo repository.ImageRepository
}

func (a *imageStorageAdapter) Get(ctx context.Context, guid string) (*domain.ImageRecord, error) {
	rec, err := a.repo.Get(ctx, guid)
	if errors.Is(err, repository.ErrImageNotFound) {
		return nil, persistence.ErrNotFound
	}
	return rec, err
}

func (a *imageStorageAdapter) Save(ctx context.Context, rec domain.ImageRecord) error {
	return a.repo.Save(ctx, rec)
}

func (a *imageStorageAdapter) Delete(ctx context.Context, guid string) error {
	return a.repo.Delete(ctx, guid)
}

func (a *imageStorageAdapter) List(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	return a.repo.List(ctx, limit)
}

func (a *imageStorageAdapter) Count(ctx context.Context) (int64, error) {
	return a.repo.Count(ctx)
}
