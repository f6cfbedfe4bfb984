// Package lifo holds the single-slot generational caches that connect the
// camera producer with filesystem readers. A cache keeps only the latest
// value: a producer that outpaces its readers overwrites, it never queues.
package lifo

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published value together with its generation. Generation 0
// means nothing has been published yet.
type Snapshot[T any] struct {
	Value      T
	Generation uint64
	Updated    time.Time
}

// Cache holds the most recently published value of type T.
//
// Published values are shared with readers by reference and must not be
// modified after Publish.
type Cache[T any] struct {
	mu      sync.Mutex // serializes publishers
	current atomic.Pointer[Snapshot[T]]
}

// New creates an empty cache
func New[T any]() *Cache[T] {
	return &Cache[T]{}
}

// Publish replaces the current value and returns its generation. Readers are
// never blocked; they keep whatever snapshot they already hold.
func (c *Cache[T]) Publish(value T) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var generation uint64 = 1
	if prev := c.current.Load(); prev != nil {
		generation = prev.Generation + 1
	}
	c.current.Store(&Snapshot[T]{
		Value:      value,
		Generation: generation,
		Updated:    time.Now(),
	})
	return generation
}

// Snapshot returns the current value without blocking
func (c *Cache[T]) Snapshot() Snapshot[T] {
	if s := c.current.Load(); s != nil {
		return *s
	}
	return Snapshot[T]{}
}

// Generation returns the generation of the current value
func (c *Cache[T]) Generation() uint64 {
	if s := c.current.Load(); s != nil {
		return s.Generation
	}
	return 0
}

// Empty reports whether nothing has been published yet
func (c *Cache[T]) Empty() bool {
	return c.current.Load() == nil
}
