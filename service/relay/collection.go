package relay

import (
	"context"
	"sync"

	"PPresence/logger"
	"PPresence/service/natsx"

	"go.uber.org/zap"
)

// Decoded adapts a typed callback into a Handler. Payloads that do not
// decode are logged and dropped.
func Decoded[T any](fn func(ctx context.Context, v T)) Handler {
	return func(ctx context.Context, env natsx.Envelope) {
		var v T
		if err := env.Decode(&v); err != nil {
			logger.Warn("[relay] dropping undecodable payload", zap.String("topic", env.Topic), zap.String("event", env.Event), zap.Error(err))
			return
		}
		fn(ctx, v)
	}
}

// Collection is a small caller-side list keyed by id: append for creates,
// replace-by-id for updates, filter-out-by-id for deletes.
type Collection[T any] struct {
	mu    sync.RWMutex
	key   func(T) string
	items []T
}

func NewCollection[T any](key func(T) string, items ...T) *Collection[T] {
	c := &Collection[T]{key: key}
	for _, it := range items {
		c.Append(it)
	}
	return c
}

// Append adds item, or replaces it when the id is already present so a
// redelivered create does not duplicate.
func (c *Collection[T]) Append(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(c.key(item)); i >= 0 {
		c.items[i] = item
		return
	}
	c.items = append(c.items, item)
}

// Replace swaps the item with the same id; unknown ids are ignored.
func (c *Collection[T]) Replace(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(c.key(item))
	if i < 0 {
		return false
	}
	c.items[i] = item
	return true
}

func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return true
}

func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection[T]) indexLocked(id string) int {
	for i, it := range c.items {
		if c.key(it) == id {
			return i
		}
	}
	return -1
}
