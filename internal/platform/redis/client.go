// Package redis owns the optional Redis connection used to broadcast ledger
// audit entries.
package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"zynx/internal/platform/config"
)

// poolMetrics mirrors go-redis pool counters into Prometheus.
type poolMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	timeouts   prometheus.Counter
	totalConns prometheus.Gauge
	idleConns  prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	factory := promauto.With(reg)
	return &poolMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "zynx_redis_pool_hits_total",
			Help: "Connections reused from the Redis pool",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "zynx_redis_pool_misses_total",
			Help: "Connections the Redis pool had to dial",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "zynx_redis_pool_timeouts_total",
			Help: "Waits for a Redis pool connection that timed out",
		}),
		totalConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zynx_redis_pool_total_conns",
			Help: "Open connections in the Redis pool",
		}),
		idleConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zynx_redis_pool_idle_conns",
			Help: "Idle connections in the Redis pool",
		}),
	}
}

// Client embeds the go-redis client so it can be handed directly to the
// audit RedisSink.
type Client struct {
	*redis.Client
	metrics *poolMetrics
	last    redis.PoolStats
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers pool metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *clientOptions) {
		if reg != nil {
			o.registerer = reg
		}
	}
}

// New connects to Redis and verifies the connection with a PING. It returns
// nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	o := clientOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		redisOpts.PoolSize = cfg.PoolSize
	}
	redisOpts.MinIdleConns = cfg.MinIdleConns
	redisOpts.DialTimeout = cfg.DialTimeout
	redisOpts.ReadTimeout = cfg.ReadTimeout
	redisOpts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: rdb, metrics: newPoolMetrics(o.registerer)}, nil
}

// Health is a readiness check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats publishes the pool counters accumulated since the previous
// call. Call it from a single goroutine.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()
	c.metrics.totalConns.Set(float64(stats.TotalConns))
	c.metrics.idleConns.Set(float64(stats.IdleConns))
	addDelta(c.metrics.hits, stats.Hits, c.last.Hits)
	addDelta(c.metrics.misses, stats.Misses, c.last.Misses)
	addDelta(c.metrics.timeouts, stats.Timeouts, c.last.Timeouts)
	c.last = *stats
}

func addDelta(counter prometheus.Counter, current, previous uint32) {
	if current > previous {
		counter.Add(float64(current - previous))
	}
}
