package asr

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lazy holds a value produced by an expensive load. Concurrent first callers
// share a single in-flight load; a failed load is not cached.
type lazy[T any] struct {
	load func(ctx context.Context) (T, error)

	group  singleflight.Group
	mu     sync.RWMutex
	value  T
	loaded bool
}

func newLazy[T any](load func(ctx context.Context) (T, error)) *lazy[T] {
	return &lazy[T]{load: load}
}

func (l *lazy[T]) cached() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.loaded
}

// Get returns the loaded value, loading it on first use.
func (l *lazy[T]) Get(ctx context.Context) (T, error) {
	if v, ok := l.cached(); ok {
		return v, nil
	}

	v, err, _ := l.group.Do("load", func() (any, error) {
		if v, ok := l.cached(); ok {
			return v, nil
		}
		// The load outlives a cancelled first caller; others may be waiting on it.
		v, err := l.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.value, l.loaded = v, true
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Loaded reports whether a load has succeeded.
func (l *lazy[T]) Loaded() bool {
	_, ok := l.cached()
	return ok
}
