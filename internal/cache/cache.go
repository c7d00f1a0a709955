// Package cache implements the reference cache: a
// cache-aside layer over the four well-known reference collections
// (billing codes, service contexts, establishments, and data-driven
// rules), backed by Redis/Valkey.
//
// On backing-store unavailability every operation degrades to a direct
// Source call and increments the error counter; it never fails the caller.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// Well-known cache keys shared with the mutation callers that invalidate them.
const (
	KeyCodes         = "ramq:codes:all"
	KeyContexts      = "ramq:contexts:all"
	KeyEstablishments = "ramq:establishments:all"
	KeyRules         = "validation:rules:all"
)

const (
	referenceTTL = time.Hour
	rulesTTL     = 24 * time.Hour
)

// Source is the backing collection reader (the persistence gateway) used on
// cache miss and during warm-up.
type Source interface {
	GetCodes(ctx context.Context) ([]domain.Code, error)
	GetContexts(ctx context.Context) ([]domain.Context, error)
	GetEstablishments(ctx context.Context) ([]domain.Establishment, error)
	GetRules(ctx context.Context) ([]domain.Rule, error)
}

// Stats is the cache's observability surface.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Errors        int64
	TotalRequests int64
}

// HitRatio returns Hits / TotalRequests, or 0 when there have been no
// requests yet.
func (s Stats) HitRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// ReferenceCache is the process-wide handle other components depend on.
// It is the only shared mutable state in this repo:
// every read of reference data goes through it rather than calling the
// store directly.
type ReferenceCache struct {
	client *redis.Client
	source Source
	log    *logrus.Entry

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	errs          atomic.Int64
	total         atomic.Int64

	mu sync.Mutex
}

// New constructs a ReferenceCache over an existing Redis client.
func New(client *redis.Client, source Source, log *logrus.Entry) *ReferenceCache {
	return &ReferenceCache{client: client, source: source, log: log}
}

// Warm populates all four well-known keys in parallel. Called once at
// worker startup, before the worker pool accepts jobs.
func (c *ReferenceCache) Warm(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, 4)

	run := func(i int, f func() error) {
		defer wg.Done()
		errs[i] = f()
	}

	wg.Add(4)
	go run(0, func() error { _, err := c.GetCodes(ctx); return err })
	go run(1, func() error { _, err := c.GetContexts(ctx); return err })
	go run(2, func() error { _, err := c.GetEstablishments(ctx); return err })
	go run(3, func() error { _, err := c.GetRules(ctx); return err })
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetCodes returns all reference codes, from cache if fresh.
func (c *ReferenceCache) GetCodes(ctx context.Context) ([]domain.Code, error) {
	var out []domain.Code
	err := c.getOrLoad(ctx, KeyCodes, referenceTTL, &out, func() (interface{}, error) {
		return c.source.GetCodes(ctx)
	})
	return out, err
}

// GetContexts returns all reference service contexts.
func (c *ReferenceCache) GetContexts(ctx context.Context) ([]domain.Context, error) {
	var out []domain.Context
	err := c.getOrLoad(ctx, KeyContexts, referenceTTL, &out, func() (interface{}, error) {
		return c.source.GetContexts(ctx)
	})
	return out, err
}

// GetEstablishments returns all reference establishments.
func (c *ReferenceCache) GetEstablishments(ctx context.Context) ([]domain.Establishment, error) {
	var out []domain.Establishment
	err := c.getOrLoad(ctx, KeyEstablishments, referenceTTL, &out, func() (interface{}, error) {
		return c.source.GetEstablishments(ctx)
	})
	return out, err
}

// GetRules returns all enabled/disabled data-driven rules.
func (c *ReferenceCache) GetRules(ctx context.Context) ([]domain.Rule, error) {
	var out []domain.Rule
	err := c.getOrLoad(ctx, KeyRules, rulesTTL, &out, func() (interface{}, error) {
		return c.source.GetRules(ctx)
	})
	return out, err
}

// getOrLoad implements the cache-aside read: try Redis, fall back to
// loader on miss or backing-store error, repopulating Redis on success and
// degrading silently to the loader's result when Redis itself is down.
func (c *ReferenceCache) getOrLoad(ctx context.Context, key string, ttl time.Duration, out interface{}, loader func() (interface{}, error)) error {
	c.total.Add(1)

	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			if jsonErr := json.Unmarshal(data, out); jsonErr == nil {
				c.hits.Add(1)
				return nil
			}
		} else if err != redis.Nil {
			c.errs.Add(1)
			c.log.WithError(err).Warn("reference cache backing store unavailable, degrading to direct source read")
		}
	}

	c.misses.Add(1)
	val, err := loader()
	if err != nil {
		return err
	}

	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if unmarshalErr := json.Unmarshal(data, out); unmarshalErr != nil {
		return unmarshalErr
	}

	if c.client != nil {
		if setErr := c.client.Set(ctx, key, data, ttl).Err(); setErr != nil {
			c.errs.Add(1)
			c.log.WithError(setErr).Warn("failed to populate reference cache")
		}
	}
	return nil
}

// Invalidate removes key from the cache. Called by the persistence
// gateway whenever a reference entity is created, updated, or deleted.
func (c *ReferenceCache) Invalidate(ctx context.Context, key string) error {
	c.invalidations.Add(1)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.errs.Add(1)
		c.log.WithError(err).Warn("failed to invalidate reference cache key")
		return nil
	}
	return nil
}

// Stats returns a snapshot of the cache's observability counters.
func (c *ReferenceCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errs.Load(),
		TotalRequests: c.total.Load(),
	}
}

// Drain closes the underlying Redis client. Called on process shutdown.
func (c *ReferenceCache) Drain() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
