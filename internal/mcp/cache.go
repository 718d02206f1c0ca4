package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL applies when CacheConfig.TTL is zero.
const DefaultCacheTTL = 10 * time.Minute

// CacheConfig selects which operations are served through Redis.
type CacheConfig struct {
	Prefix     string
	TTL        time.Duration
	Operations []string // "provider/operation", e.g. "erp/get_products"
}

// CachingInvoker is a read-through Redis cache in front of another Invoker.
// Only operations listed in CacheConfig.Operations are cached; everything
// else passes straight through. Redis failures never fail a call.
type CachingInvoker struct {
	next      Invoker
	redis     *redis.Client
	prefix    string
	ttl       time.Duration
	cacheable map[string]bool
	logger    *zap.Logger
}

// NewCachingInvoker wraps next with a Redis cache.
func NewCachingInvoker(next Invoker, client *redis.Client, cfg CacheConfig, logger *zap.Logger) *CachingInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "xtern:mcp:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	ops := make(map[string]bool, len(cfg.Operations))
	for _, op := range cfg.Operations {
		ops[op] = true
	}
	return &CachingInvoker{
		next:      next,
		redis:     client,
		prefix:    prefix,
		ttl:       ttl,
		cacheable: ops,
		logger:    logger.With(zap.String("component", "mcp-cache")),
	}
}

// Invoke implements Invoker.
func (c *CachingInvoker) Invoke(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error) {
	if !c.cacheable[string(provider)+"/"+operation] {
		return c.next.Invoke(ctx, provider, operation, args)
	}

	key, err := c.key(provider, operation, args)
	if err != nil {
		c.logger.Warn("cache key generation failed", zap.Error(err))
		return c.next.Invoke(ctx, provider, operation, args)
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		c.logger.Debug("cache hit", zap.String("key", key))
		return json.RawMessage(data), nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	result, err := c.next.Invoke(ctx, provider, operation, args)
	if err != nil {
		return nil, err
	}

	if err := c.redis.Set(ctx, key, []byte(result), c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (c *CachingInvoker) key(provider Provider, operation string, args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal args: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s%s:%s:%s", c.prefix, provider, operation, hex.EncodeToString(sum[:])), nil
}
