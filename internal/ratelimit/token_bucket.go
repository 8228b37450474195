package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket describes one token bucket: refill rate and capacity.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute" json:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize" json:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

// Decision is the outcome of spending one token. Remaining is the whole
// number of tokens left after the call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether subject may spend one token from its bucket in scope.
type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

const defaultKeyPrefix = "imagegate:rl"

// TokenBucketLimiter keeps bucket state in Redis so every replica shares it.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type TokenBucketOption func(*TokenBucketLimiter)

// WithKeyPrefix namespaces bucket keys, e.g. per deployment sharing a Redis.
func WithKeyPrefix(prefix string) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		if p := strings.Trim(strings.TrimSpace(prefix), ":"); p != "" {
			l.prefix = p
		}
	}
}

func WithClock(now func() time.Time) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewTokenBucketLimiter(rdb *redis.Client, opts ...TokenBucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{rdb: rdb, prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// The script refills by elapsed milliseconds, spends one token when possible
// and returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local per_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_ms)
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) / per_ms)
end

redis.call("HSET", key, "tokens", tokens, "ts", math.max(now, ts))
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, math.floor(tokens), wait_ms}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := l.key(scope, subject)
	perMS := float64(bucket.RequestsPerMinute) / float64(time.Minute.Milliseconds())

	reply, err := tokenBucketScript.Run(ctx, l.rdb, []string{key},
		perMS, bucket.BurstSize, l.now().UnixMilli(), stateTTL(bucket).Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", scope, err)
	}
	res, ok := int64s(reply)
	if !ok || len(res) != 3 {
		return Decision{}, fmt.Errorf("token bucket %s: unexpected reply %v", scope, reply)
	}

	dec := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if !dec.Allowed {
		dec.RetryAfter = roundUpSecond(time.Duration(res[2]) * time.Millisecond)
	}
	return dec, nil
}

func int64s(reply any) ([]int64, bool) {
	vals, ok := reply.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	scope, subject = normalize(scope, subject)
	sum := sha256.Sum256([]byte(subject))
	return l.prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}

func normalize(scope, subject string) (string, string) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	return scope, subject
}

// stateTTL keeps idle bucket state for two full refills plus slack, clamped
// to [30s, 1h].
func stateTTL(b Bucket) time.Duration {
	if !b.Enabled() {
		return 2 * time.Minute
	}
	refill := time.Duration(b.BurstSize) * time.Minute / time.Duration(b.RequestsPerMinute)
	ttl := 2*refill + 5*time.Second
	return min(max(ttl, 30*time.Second), time.Hour)
}

// roundUpSecond rounds d up to whole seconds, minimum one.
func roundUpSecond(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
