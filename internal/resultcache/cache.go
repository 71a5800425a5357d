// Package resultcache stores finished recovery outcomes in Redis so repeated
// requests for the same hash skip the search. Concurrent identical requests
// share one computation.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/resilience"
)

const keyPrefix = "recovery:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Circuit string `json:"circuit"`
}

// Cache is a read-through cache of T values. A nil *Cache is valid and
// always computes.
type Cache[T any] struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps store. m may be nil.
func New[T any](store Store, ttl time.Duration, m *metrics.Metrics) *Cache[T] {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Cache[T]{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("result-cache", cbCfg),
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

// Key hashes the parts of a normalised request into a cache key.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(h[:16])
}

// Get returns the cached value for key. Store errors and an open circuit
// count as misses.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return zero, false
	}
	if data == nil {
		c.miss()
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return zero, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return v, true
}

func (c *Cache[T]) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Set stores v under key. Failures are logged, not returned.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached value or runs compute once for all
// concurrent callers with the same key. store decides whether a computed
// value is kept. The bool reports a cache hit.
//
// The shared computation runs on the context of the caller that started it.
// If that caller goes away, callers whose own context is still live start a
// new computation instead of inheriting the cancellation. Each caller stops
// waiting when its own context is done.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (T, error), store func(T) bool) (T, bool, error) {
	var zero T
	if c == nil {
		v, err := compute(ctx)
		return v, false, err
	}
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	for {
		led := false
		ch := c.group.DoChan(key, func() (any, error) {
			led = true
			v, err := compute(ctx)
			if err != nil {
				return v, err
			}
			if store == nil || store(v) {
				c.Set(context.WithoutCancel(ctx), key, v)
			}
			return v, nil
		})
		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil && !led && ctx.Err() == nil && abandoned(res.Err) {
				c.logger.Debug("in-flight computation abandoned by its caller, retrying", "key", key)
				continue
			}
			if res.Shared && !led {
				c.logger.Debug("joined in-flight computation", "key", key)
			}
			v, _ := res.Val.(T)
			return v, false, res.Err
		}
	}
}

// abandoned reports whether err comes from the leading caller's context
// rather than from the computation itself. A timeout enforced inside the
// computation is a real result and is shared.
func abandoned(err error) bool {
	if errors.Is(err, apperrors.ErrTimeout) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate deletes every cached outcome.
func (c *Cache[T]) Invalidate(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *Cache[T]) Stats() Stats {
	if c == nil {
		return Stats{Circuit: "disabled"}
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Circuit: c.breaker.State().String(),
	}
}
