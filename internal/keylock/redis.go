package keylock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

const (
	minRetry = 25 * time.Millisecond
	maxRetry = 500 * time.Millisecond
)

// Redis is a best-effort lease lock shared between replicas. A holder that
// outlives the lease TTL loses exclusivity; it is not a consensus protocol.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logger.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg config.LockConfig, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.NewNop()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r := NewRedisWithClient(client, cfg.LeaseTTL, cfg.Prefix, log)
	r.logger.Info("Redis lease lock initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("lease_ttl", r.ttl))
	return r, nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, ttl time.Duration, prefix string, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "docguard:kb-lock"
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: log.WithComponent("keylock"),
	}
}

// Lock acquires the lease for key, polling with backoff until ctx is done
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	leaseKey := r.prefix + ":" + key
	token := uuid.NewString()

	wait := minRetry
	for {
		ok, err := r.client.SetNX(ctx, leaseKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetry {
			wait = maxRetry
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// released on a fresh context so cancellation cannot leak the lease
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{leaseKey}, token).Err(); err != nil && err != redis.Nil {
				r.logger.Warn("Failed to release lease", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}

// maskRedisURL hides the password in a redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], ":") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
