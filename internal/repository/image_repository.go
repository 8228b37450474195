package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// ErrImageNotFound is returned by Get when no record exists for a guid.
var ErrImageNotFound = errors.New("image record not found")

type ImageRepository interface {
	Get(ctx context.Context, guid string) (*domain.ImageRecord, error)
	Save(ctx context.Context, rec domain.ImageRecord) error
	Delete(ctx context.Context, guid string) error
	List(ctx context.Context, limit int) ([]domain.ImageRecord, error)
	Count(ctx context.Context) (int64, error)
}

type imageRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewImageRepository(rdb *redis.Client, tz *time.Location) ImageRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &imageRedisRepo{rdb: rdb, tz: tz}
}

// Records live in one hash; the sorted set orders guids by creation time for listing.
func (r *imageRedisRepo) keyImagesHash() string  { return "imagegate:images" }
func (r *imageRedisRepo) keyCreatedIndex() string { return "imagegate:images:created" }

func (r *imageRedisRepo) Get(ctx context.Context, guid string) (*domain.ImageRecord, error) {
	js, err := r.rdb.HGet(ctx, r.keyImagesHash(), guid).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET image: %w", err)
	}
	var rec domain.ImageRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal image: %w", err)
	}
	return &rec, nil
}

func (r *imageRedisRepo) Save(ctx context.Context, rec domain.ImageRecord) error {
	if strings.TrimSpace(rec.GUID) == "" {
		return fmt.Errorf("image guid is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().In(r.tz)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal image: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.keyImagesHash(), rec.GUID, string(b))
	pipe.ZAdd(ctx, r.keyCreatedIndex(), &redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.GUID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save image: %w", err)
	}
	return nil
}

func (r *imageRedisRepo) Delete(ctx context.Context, guid string) error {
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.keyImagesHash(), guid)
	pipe.ZRem(ctx, r.keyCreatedIndex(), guid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete image: %w", err)
	}
	return nil
}

// List returns records oldest first. limit <= 0 returns all of them.
func (r *imageRedisRepo) List(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	guids, err := r.rdb.ZRange(ctx, r.keyCreatedIndex(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGE images: %w", err)
	}
	if len(guids) == 0 {
		return []domain.ImageRecord{}, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keyImagesHash(), guids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET images: %w", err)
	}
	out := make([]domain.ImageRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" {
			// Index entry without a record; skipped until the next Delete cleans it.
			continue
		}
		var rec domain.ImageRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal image: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *imageRedisRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.HLen(ctx, r.keyImagesHash()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HLEN images: %w", err)
	}
	return n, nil
}
