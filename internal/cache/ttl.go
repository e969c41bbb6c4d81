// Package cache provides a small injectable get-or-refresh cache.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Loader[T any] func(ctx context.Context) (T, error)

// TTL caches a single value produced by a loader. A value older than the
// TTL is reloaded on the next Get; concurrent reloads share one loader call.
type TTL[T any] struct {
	ttl    time.Duration
	loader Loader[T]
	now    func() time.Time
	group  singleflight.Group

	mu         sync.RWMutex
	value      T
	fetchedAt  time.Time
	valid      bool
	generation uint64
}

func NewTTL[T any](ttl time.Duration, loader Loader[T]) *TTL[T] {
	return &TTL[T]{
		ttl:    ttl,
		loader: loader,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *TTL[T]) WithClock(now func() time.Time) *TTL[T] {
	c.now = now
	return c
}

func (c *TTL[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		value := c.value
		c.mu.RUnlock()
		return value, nil
	}
	generation := c.generation
	c.mu.RUnlock()

	result, err, _ := c.group.Do("load", func() (any, error) {
		value, err := c.loader(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// ロード中に Invalidate された場合、値は既に古い可能性がある
		if c.generation == generation {
			c.value = value
			c.fetchedAt = c.now()
			c.valid = true
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	value, _ := result.(T)
	return value, nil
}

// Invalidate drops the cached value so the next Get reloads.
func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.valid = false
	c.generation++
}

// FetchedAt returns when the cached value was loaded, or the zero time.
func (c *TTL[T]) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return time.Time{}
	}
	return c.fetchedAt
}
