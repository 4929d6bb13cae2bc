// Package cache keeps loaded key handles in process memory.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
)

// HandleCache caches key handles by record id. Record ids change on every write, so a
// deleted and re-created tag never hits a stale entry. Concurrent misses for one id are
// collapsed into a single load.
type HandleCache struct {
	items   *gocache.Cache
	sf      singleflight.Group
	metrics service.Metrics
}

// NewHandleCache creates a handle cache whose entries expire after ttl.
func NewHandleCache(ttl time.Duration, metrics service.Metrics) *HandleCache {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &HandleCache{
		items:   gocache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

// GetOrLoad returns the cached handle for id or calls load once to create it.
func (c *HandleCache) GetOrLoad(ctx context.Context, id string, load func(ctx context.Context) (*models.KeyHandle, error)) (*models.KeyHandle, error) {
	if v, ok := c.items.Get(id); ok {
		c.metrics.RecordCacheAccess(true)
		return v.(*models.KeyHandle), nil
	}
	c.metrics.RecordCacheAccess(false)

	v, err, _ := c.sf.Do(id, func() (interface{}, error) {
		h, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.items.SetDefault(id, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.KeyHandle), nil
}

// Invalidate drops the entry for id.
func (c *HandleCache) Invalidate(id string) {
	c.items.Delete(id)
	c.sf.Forget(id)
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	return c.items.ItemCount()
}

var _ service.HandleCache = (*HandleCache)(nil)
