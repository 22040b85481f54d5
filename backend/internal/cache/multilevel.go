package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, key string) (bool, error)
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
	Stats() map[string]interface{}
	Health(ctx context.Context) error
	Close() error
}

// MultiLevelCache keeps a process-local L1 in front of an optional redis L2.
// Redis failures degrade to L1-only behaviour and are never returned from
// reads or writes.
type MultiLevelCache struct {
	l1             *MemoryCache
	l2             *RedisCache
	l1TTL          time.Duration
	metrics        *CacheMetrics
	circuitBreaker *CircuitBreaker
	log            logrus.FieldLogger

	genMu sync.Mutex
	gens  map[string]int64
}

// NewMultiLevelCache accepts a nil redisCache for memory-only operation.
func NewMultiLevelCache(redisCache *RedisCache, log logrus.FieldLogger) *MultiLevelCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MultiLevelCache{
		l1:             NewMemoryCache(),
		l2:             redisCache,
		l1TTL:          time.Minute,
		metrics:        NewCacheMetrics(),
		circuitBreaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		log:            log.WithField("component", "cache"),
		gens:           make(map[string]int64),
	}
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l1TTL := ttl
	if c.l2 != nil && c.l1TTL < ttl {
		l1TTL = c.l1TTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	c.l1.Set(key, json.RawMessage(data), l1TTL)
	c.metrics.RecordSet()

	if c.l2 != nil {
		err := c.circuitBreaker.Execute(func() error {
			return c.l2.Set(ctx, key, value, ttl)
		})
		if err != nil {
			c.metrics.RecordError()
			c.log.WithError(err).WithField("key", key).Warn("l2 set failed")
		}
	}

	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if value, found := c.l1.Get(key); found {
		c.metrics.RecordHit()
		return copyValue(value, dest)
	}

	if c.l2 != nil {
		err := c.circuitBreaker.Execute(func() error {
			return c.l2.Get(ctx, key, dest)
		})
		if err == nil {
			if data, merr := json.Marshal(dest); merr == nil {
				c.l1.Set(key, json.RawMessage(data), c.l1TTL)
			}
			c.metrics.RecordHit()
			return nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.metrics.RecordError()
		}
	}

	c.metrics.RecordMiss()
	return ErrCacheMiss
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.l1.Delete(key)
	c.metrics.RecordDelete()

	if c.l2 != nil {
		err := c.circuitBreaker.Execute(func() error {
			return c.l2.Delete(ctx, key)
		})
		if err != nil {
			c.metrics.RecordError()
		}
		return err
	}

	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.l1.DeletePattern(pattern)
	c.metrics.RecordDelete()

	if c.l2 != nil {
		err := c.circuitBreaker.Execute(func() error {
			return c.l2.DeletePattern(ctx, pattern)
		})
		if err != nil {
			c.metrics.RecordError()
		}
		return err
	}

	return nil
}

func (c *MultiLevelCache) Exists(ctx context.Context, key string) (bool, error) {
	if _, found := c.l1.Get(key); found {
		return true, nil
	}

	if c.l2 != nil {
		return c.l2.Exists(ctx, key)
	}

	return false, nil
}

// Generation reads the counter stored under key; an unset counter is zero.
// With redis configured the counter lives there, so every instance sees the
// same value. Counters never go through L1.
func (c *MultiLevelCache) Generation(ctx context.Context, key string) (int64, error) {
	if c.l2 == nil {
		c.genMu.Lock()
		defer c.genMu.Unlock()
		return c.gens[key], nil
	}
	var n int64
	err := c.circuitBreaker.Execute(func() error {
		var err error
		n, err = c.l2.Generation(ctx, key)
		return err
	})
	if err != nil {
		c.metrics.RecordError()
		return 0, err
	}
	return n, nil
}

// Bump increments the counter stored under key and returns the new value.
func (c *MultiLevelCache) Bump(ctx context.Context, key string) (int64, error) {
	if c.l2 == nil {
		c.genMu.Lock()
		defer c.genMu.Unlock()
		c.gens[key]++
		return c.gens[key], nil
	}
	var n int64
	err := c.circuitBreaker.Execute(func() error {
		var err error
		n, err = c.l2.Bump(ctx, key)
		return err
	})
	if err != nil {
		c.metrics.RecordError()
		return 0, err
	}
	return n, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":               c.l1.Stats(),
		"metrics":          c.metrics.GetStats(),
		"hit_rate_percent": c.metrics.HitRate(),
		"circuit_breaker":  c.circuitBreaker.GetStats(),
	}

	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}

	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		if c.circuitBreaker.State() == StateOpen {
			return errors.New("redis circuit breaker is open")
		}
		return c.l2.Health(ctx)
	}

	return nil
}

func (c *MultiLevelCache) Close() error {
	c.l1.Close()

	if c.l2 != nil {
		return c.l2.Close()
	}

	return nil
}

func (c *MultiLevelCache) GetMetrics() *CacheMetrics {
	return c.metrics
}

// copyValue deep-copies src into dest through JSON.
func copyValue(src, dest interface{}) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr {
		return fmt.Errorf("destination must be a pointer, got %T", dest)
	}

	if destValue.IsNil() {
		return fmt.Errorf("destination pointer is nil")
	}

	jsonData, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source value: %w", err)
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal to destination: %w", err)
	}

	return nil
}
