// Package respcache caches encoded select responses in a key-value store.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/db"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// store is the consumer interface for the response cache.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// selecter produces an encoded response body and reports whether it is partial.
type selecter interface {
	SelectPartial(ctx context.Context, p *params.Params) ([]byte, bool, error)
}

// CachedSelect caches response bodies keyed by their request parameters.
type CachedSelect struct {
	inner      selecter
	store      store
	ttl        time.Duration
	prefix     string
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"/"skip"), passed explicitly.
// A skip is a miss whose response was partial and so not stored.
func New(
	inner selecter,
	s store,
	ttl time.Duration,
	prefix string,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedSelect {
	return &CachedSelect{
		inner:      inner,
		store:      s,
		ttl:        ttl,
		prefix:     prefix,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Select returns a cached body or runs the inner select and stores its result.
// Partial responses are returned but never stored.
func (c *CachedSelect) Select(ctx context.Context, p *params.Params) ([]byte, error) {
	key := c.cacheKey(p)
	if body, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return body, nil
	}

	c.incCache("miss")

	body, partial, err := c.inner.SelectPartial(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if partial {
		c.incCache("skip")
		return body, nil
	}

	c.putToCache(ctx, key, body)
	return body, nil
}

func (c *CachedSelect) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes the encoded params; Encode sorts names so equal requests share a key.
func (c *CachedSelect) cacheKey(p *params.Params) string {
	h := sha256.Sum256([]byte(p.Encode()))
	return c.prefix + hex.EncodeToString(h[:])
}

func (c *CachedSelect) getFromCache(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached response", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if !json.Valid(data) {
		c.logger.Warn("Evicting unreadable cached response", zap.String("key", key), zap.Int("bytes", len(data)))
		if err := c.store.Del(ctx, key); err != nil {
			c.logger.Warn("Failed to evict cached response", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *CachedSelect) putToCache(ctx context.Context, key string, body []byte) {
	if err := c.store.SetWithTTL(ctx, key, body, c.ttl); err != nil {
		c.logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
	}
}
