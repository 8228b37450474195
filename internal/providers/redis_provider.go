package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions is the subset of client settings imagegate exposes.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisProvider builds the client shared by the rate limiter and the
// redis record store. Timeouts are kept short so a slow Redis degrades the
// request path instead of stalling it.
func NewRedisProvider(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         strings.TrimSpace(opts.Addr),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// PingRedis checks connectivity within timeout.
func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", rdb.Options().Addr, err)
	}
	return nil
}
