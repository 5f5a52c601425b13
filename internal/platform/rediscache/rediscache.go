package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/myaview/backend/internal/platform/logger"
)

// VectorCache is a bounded-TTL cache for query embeddings. It is a pure
// optimization: a miss or a redis outage must never change retrieval results
// beyond staleness tolerance, so every method degrades to a no-op on error.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
	Close() error
}

type vectorCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewVectorCache connects using REDIS_ADDR. Returns (nil, nil) when unset so
// callers can wire the cache as optional.
func NewVectorCache(log *logger.Logger) (VectorCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	ttl := 10 * time.Minute
	if v := strings.TrimSpace(os.Getenv("EMBED_CACHE_TTL_SECONDS")); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			ttl = d
		}
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &vectorCache{
		log: log.With("client", "RedisVectorCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (c *vectorCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.log.Warn("bad cached vector payload", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

func (c *vectorCache) Set(ctx context.Context, key string, vec []float32) {
	if c == nil || c.rdb == nil || len(vec) == 0 {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("vector cache set failed", "key", key, "error", err)
	}
}

func (c *vectorCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
