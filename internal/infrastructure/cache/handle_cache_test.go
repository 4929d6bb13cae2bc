package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

type countingMetrics struct {
	hits, misses int32
}

func (m *countingMetrics) RecordOperation(string, string, time.Duration) {}
func (m *countingMetrics) RecordCacheAccess(hit bool) {
	if hit {
		atomic.AddInt32(&m.hits, 1)
		return
	}
	atomic.AddInt32(&m.misses, 1)
}

func handle(id string) *models.KeyHandle {
	return models.NewKeyHandle(&models.StoredKey{ID: id, Kind: constants.KeyKindSymmetric, Tag: models.NewKeyTag(id)}, nil, nil)
}

func TestHandleCache_GetOrLoad(t *testing.T) {
	metrics := &countingMetrics{}
	c := NewHandleCache(time.Minute, metrics)
	ctx := context.Background()
	var loads int32

	load := func(context.Context) (*models.KeyHandle, error) {
		atomic.AddInt32(&loads, 1)
		return handle("a"), nil
	}

	h1, err := c.GetOrLoad(ctx, "a", load)
	require.NoError(t, err)
	h2, err := c.GetOrLoad(ctx, "a", load)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int32(1), loads)
	assert.Equal(t, int32(1), metrics.hits)
	assert.Equal(t, int32(1), metrics.misses)

	c.Invalidate("a")
	_, err = c.GetOrLoad(ctx, "a", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads)
}

func TestHandleCache_LoadErrorIsNotCached(t *testing.T) {
	c := NewHandleCache(time.Minute, nil)
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "b", func(context.Context) (*models.KeyHandle, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	h, err := c.GetOrLoad(ctx, "b", func(context.Context) (*models.KeyHandle, error) {
		return handle("b"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b", h.ID())
}

func TestHandleCache_ConcurrentMissesLoadOnce(t *testing.T) {
	c := NewHandleCache(time.Minute, nil)
	ctx := context.Background()
	var loads int32
	release := make(chan struct{})

	load := func(context.Context) (*models.KeyHandle, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return handle("c"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(ctx, "c", load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}
