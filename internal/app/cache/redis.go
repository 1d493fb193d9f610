// Package cache provides a Redis-backed read cache for the latest consensus
// result, taking repeated price lookups off the primary store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/metrics"
)

var (
	cacheHits = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "oracle_layer_cache_hits_total",
		Help: "Total number of consensus cache hits.",
	})

	cacheMisses = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "oracle_layer_cache_misses_total",
		Help: "Total number of consensus cache misses.",
	})

	cacheErrors = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "oracle_layer_cache_errors_total",
		Help: "Total number of consensus cache errors.",
	})
)

const latestKey = "consensus:latest"

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// ResultCache caches the latest consensus result in Redis.
type ResultCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and returns a result cache. The TTL defaults to two
// minutes, the freshness boundary of a consensus price.
func New(cfg Config) (*ResultCache, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "oracle:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ResultCache{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

// Get returns the cached latest result, if present.
func (c *ResultCache) Get(ctx context.Context) (oracle.Result, bool) {
	raw, err := c.client.Get(ctx, c.prefix+latestKey).Bytes()
	if err == redis.Nil {
		cacheMisses.Inc()
		return oracle.Result{}, false
	}
	if err != nil {
		cacheErrors.Inc()
		return oracle.Result{}, false
	}

	var res oracle.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		cacheErrors.Inc()
		return oracle.Result{}, false
	}
	cacheHits.Inc()
	return res, true
}

// Store writes the latest result through to the cache.
func (c *ResultCache) Store(ctx context.Context, res oracle.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		cacheErrors.Inc()
		return
	}
	if err := c.client.Set(ctx, c.prefix+latestKey, raw, c.ttl).Err(); err != nil {
		cacheErrors.Inc()
	}
}

// Invalidate drops the cached result.
func (c *ResultCache) Invalidate(ctx context.Context) {
	c.client.Del(ctx, c.prefix+latestKey)
}

// Close releases the Redis connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
