package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader is a read-through cache. Concurrent misses for one key share a
// single load. A zero TTL disables caching but still collapses concurrent
// loads.
type Loader[T any] struct {
	lru   *LRUCache[T]
	group singleflight.Group
	ttl   time.Duration
	// gen is bumped by Invalidate so a load that started earlier does not
	// store its result.
	gen atomic.Uint64
}

func NewLoader[T any](maxSize int, ttl time.Duration) *Loader[T] {
	return &Loader[T]{lru: NewLRUCache[T](maxSize, ttl), ttl: ttl}
}

// Get returns the cached value for key or calls load. hit reports whether
// the value came from the cache. The shared load ignores cancellation of
// ctx, since callers that joined it would otherwise fail with it.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (val T, hit bool, err error) {
	if l.ttl > 0 {
		if v, ok := l.lru.Get(key); ok {
			return v, true, nil
		}
	}

	gen := l.gen.Load()
	shared := context.WithoutCancel(ctx)
	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := load(shared)
		if err != nil {
			return v, err
		}
		if l.ttl > 0 && l.gen.Load() == gen {
			l.lru.Set(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

// Invalidate drops every entry whose key starts with prefix.
func (l *Loader[T]) Invalidate(prefix string) int {
	l.gen.Add(1)
	return l.lru.DeletePrefix(prefix)
}

func (l *Loader[T]) CleanExpired() int { return l.lru.CleanExpired() }

func (l *Loader[T]) Size() int { return l.lru.Size() }
