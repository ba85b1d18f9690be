package lares

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// cached holds a value that is fetched at most once successfully and never
// invalidated. Concurrent callers share the in-flight fetch, which is
// detached from the cancellation of whoever started it; every request made
// by fetch is still bounded by the client timeout.
type cached[T any] struct {
	mu    sync.RWMutex
	ok    bool
	value T
	group singleflight.Group
}

func (c *cached[T]) get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.RLock()
	if c.ok {
		defer c.mu.RUnlock()
		return c.value, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("", func() (any, error) {
		c.mu.RLock()
		if c.ok {
			defer c.mu.RUnlock()
			return c.value, nil
		}
		c.mu.RUnlock()

		value, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return value, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.value, c.ok = value, true
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
