package service

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/photoledger/internal/pricing/domain"
)

// Cache holds the last loaded price table and when it was fetched.
type Cache struct {
	mu        sync.Mutex
	table     domain.Table
	fetchedAt time.Time
}

// Get returns the cached table while it is younger than ttl and otherwise
// reloads it. A failed load returns the error and keeps the previous table
// for the next call.
func (c *Cache) Get(ctx context.Context, now time.Time, ttl time.Duration, load func(context.Context) (domain.Table, error)) (domain.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table != nil && now.Sub(c.fetchedAt) < ttl {
		return c.table, nil
	}
	table, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.table = table
	c.fetchedAt = now
	return table, nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.table = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
