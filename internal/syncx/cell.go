// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Cell is a guarded value shared between the goroutine that owns it and the
// goroutines that only observe it. Every write bumps a version so observers
// can tell a fresh value from one they have already seen.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// NewCell creates a guarded value.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns a copy of the value (T should be value type or immutable).
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Load returns the value together with its version.
func (c *Cell[T]) Load() (T, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.version
}

// Set atomically replaces the value.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.version++
}

// Swap atomically replaces and returns old value.
func (c *Cell[T]) Swap(v T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.value
	c.value = v
	c.version++
	return old
}

// Write executes fn while holding the write lock; fn receives a pointer for mutation.
func (c *Cell[T]) Write(fn func(*T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.value)
	c.version++
}

// Read executes fn while holding the read lock.
func (c *Cell[T]) Read(fn func(T)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.value)
}

// Version returns the number of writes so far.
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
