package secretariat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceLoader_CachesFeeds(t *testing.T) {
	backend := newFakeBackend()
	loader := NewReferenceLoader(time.Minute)

	first, err := loader.Get(context.Background(), backend)
	require.NoError(t, err)
	second, err := loader.Get(context.Background(), backend)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.refCalls)
	cfg, ok := first.RequestTypeConfig(RequestTypeDignitary)
	require.True(t, ok)
	assert.Equal(t, AttendeeDignitary, cfg.AttendeeType)

	loader.Invalidate()
	_, err = loader.Get(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.refCalls)
}

func TestReferenceLoader_ConcurrentCallersShareOneFetch(t *testing.T) {
	backend := newFakeBackend()
	loader := NewReferenceLoader(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loader.Get(context.Background(), backend)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.LessOrEqual(t, backend.refCalls, 8)
	assert.GreaterOrEqual(t, backend.refCalls, 1)
}

func TestReferenceLoader_ErrorIsNotCached(t *testing.T) {
	backend := newFakeBackend()
	backend.refErr = errBackendDown
	loader := NewReferenceLoader(time.Minute)

	_, err := loader.Get(context.Background(), backend)
	require.ErrorIs(t, err, errBackendDown)
	assert.Contains(t, err.Error(), "load status options")

	backend.refErr = nil
	_, err = loader.Get(context.Background(), backend)
	require.NoError(t, err)
}

func TestReferenceData_Lookups(t *testing.T) {
	ref := testReference()

	assert.True(t, ref.HasLocation(2))
	assert.False(t, ref.HasLocation(3))
	assert.True(t, ref.HasTimeOfDay("Evening"))
	assert.False(t, ref.HasTimeOfDay("Night"))
	assert.True(t, ReferenceData{}.HasTimeOfDay("anything"))
	_, ok := ref.RequestTypeConfig("Other")
	assert.False(t, ok)
}
