// Package cache implements ports.ResultCache for the Coordinator's
// CachePolicy, as a two-tier cache: an in-process
// hashicorp/golang-lru/v2 tier checked first, and an optional
// redis/go-redis/v9 tier behind it for PER_HUB/GLOBAL scope sharing
// across hub processes, per SPEC_FULL.md §6 "Coordinator's CachePolicy
// result cache".
package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cuemby/devicehub/pkg/ports"
)

func cacheKeyString(k ports.CacheKey) string {
	return k.Action + "|" + k.InputDigest + "|" + k.PrincipalDigest
}

// TwoTier is a ResultCache with a local LRU tier and an optional Redis
// tier. Invalidate clears matching entries from both.
type TwoTier struct {
	local *lru.Cache[string, []byte]
	redis *redis.Client
}

// Config configures a TwoTier cache.
type Config struct {
	// LocalSize bounds the in-process LRU tier's entry count.
	LocalSize int
	// Redis is optional; when nil, only the local tier is used.
	Redis *redis.Client
}

// New builds a TwoTier cache.
func New(cfg Config) (*TwoTier, error) {
	size := cfg.LocalSize
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &TwoTier{local: local, redis: cfg.Redis}, nil
}

// Get checks the local tier first, then Redis, populating the local
// tier on a Redis hit.
func (c *TwoTier) Get(ctx context.Context, key ports.CacheKey) ([]byte, bool) {
	k := cacheKeyString(key)
	if v, ok := c.local.Get(k); ok {
		return v, true
	}
	if c.redis == nil {
		return nil, false
	}
	v, err := c.redis.Get(ctx, k).Bytes()
	if err != nil {
		return nil, false
	}
	c.local.Add(k, v)
	return v, true
}

// Set writes to both tiers, Redis with ttl as its expiry.
func (c *TwoTier) Set(ctx context.Context, key ports.CacheKey, value []byte, ttl time.Duration) error {
	k := cacheKeyString(key)
	c.local.Add(k, value)
	if c.redis == nil {
		return nil
	}
	return c.redis.Set(ctx, k, value, ttl).Err()
}

// Invalidate drops every entry whose action matches pattern (an exact
// action name or an "action:*" prefix wildcard) from the local tier,
// and issues a SCAN-based delete against Redis when configured.
func (c *TwoTier) Invalidate(ctx context.Context, pattern string) error {
	prefix, wildcard := strings.CutSuffix(pattern, "*")

	for _, k := range c.local.Keys() {
		if matchesPattern(k, prefix, wildcard) {
			c.local.Remove(k)
		}
	}

	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		k := iter.Val()
		if matchesPattern(k, prefix, wildcard) {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func matchesPattern(key, prefix string, wildcard bool) bool {
	if wildcard {
		return strings.HasPrefix(key, prefix)
	}
	return strings.HasPrefix(key, prefix+"|") || key == prefix
}
