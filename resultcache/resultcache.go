// Package resultcache shares scan verdicts across processes through Redis.
// The in-process cache inside the client only helps a single process; a
// fleet of gateways scanning the same prompts wants one shared verdict
// store so a prompt scanned by one instance is not re-scanned by the next.
//
// The cache fails open on Redis trouble: a broken cache degrades to more
// scan traffic, never to blocked requests.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

const (
	defaultTTL    = 5 * time.Minute
	defaultPrefix = "aisec:verdict:"
)

// Cache is a Redis-backed verdict cache. It is safe for concurrent use.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    logrus.FieldLogger
}

// Options configures a Cache. URL is required and uses the standard form
// redis://host:port/db.
type Options struct {
	URL    string
	TTL    time.Duration
	Prefix string
	Logger logrus.FieldLogger
}

// New connects to Redis and verifies the connection with a short ping.
func New(opts Options) (*Cache, error) {
	if opts.URL == "" {
		return nil, errors.New("resultcache: redis URL is required")
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("resultcache: parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("resultcache: connect to redis: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Cache{client: client, ttl: ttl, prefix: prefix, log: log}, nil
}

// key derives the Redis key for a profile/content combination. It reuses the
// client's verdict digest so local and shared caches agree on identity.
func (c *Cache) key(profile aisecurity.AIProfile, contents []aisecurity.ScanContent) string {
	return c.prefix + aisecurity.VerdictKey(profile, contents)
}

// Get returns the cached verdict for the combination, if any. Redis errors
// and undecodable entries are treated as misses.
func (c *Cache) Get(ctx context.Context, profile aisecurity.AIProfile, contents []aisecurity.ScanContent) (*aisecurity.ScanResponse, bool) {
	data, err := c.client.Get(ctx, c.key(profile, contents)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("Verdict cache read failed, treating as miss")
		}
		return nil, false
	}

	var verdict aisecurity.ScanResponse
	if err := json.Unmarshal(data, &verdict); err != nil {
		c.log.WithError(err).Warn("Verdict cache entry undecodable, treating as miss")
		return nil, false
	}
	return &verdict, true
}

// Set stores a verdict for the combination. Write failures are logged and
// dropped; the caller already has the verdict in hand.
func (c *Cache) Set(ctx context.Context, profile aisecurity.AIProfile, contents []aisecurity.ScanContent, verdict *aisecurity.ScanResponse) {
	if verdict == nil {
		return
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		c.log.WithError(err).Warn("Verdict cache encode failed, skipping store")
		return
	}
	if err := c.client.Set(ctx, c.key(profile, contents), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("Verdict cache write failed, skipping store")
	}
}

// Invalidate removes the cached verdict for one combination.
func (c *Cache) Invalidate(ctx context.Context, profile aisecurity.AIProfile, contents []aisecurity.ScanContent) error {
	if err := c.client.Del(ctx, c.key(profile, contents)).Err(); err != nil {
		return fmt.Errorf("resultcache: invalidate: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection, for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
