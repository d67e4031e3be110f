package dialer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aridialer/internal/database"
)

func TestRegistryReserveIsCapped(t *testing.T) {
	r := NewRegistry()
	r.Upsert(database.Campaign{ID: 1, ConcurrentCalls: 3})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Reserve(1) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, 3, r.Current(1))
	_, slots, ok := r.Available(1)
	require.True(t, ok)
	assert.Zero(t, slots)
}

func TestRegistryReleaseNeverNegative(t *testing.T) {
	r := NewRegistry()
	r.Upsert(database.Campaign{ID: 1, ConcurrentCalls: 1})

	require.True(t, r.Reserve(1))
	r.Release(1)
	r.Release(1)
	assert.Equal(t, 0, r.Current(1))
	assert.True(t, r.Reserve(1))
}

func TestRegistryUpsertRefreshesSettingsAndKeepsCounters(t *testing.T) {
	r := NewRegistry()
	stop, added := r.Upsert(database.Campaign{ID: 1, ConcurrentCalls: 1})
	require.True(t, added)
	require.True(t, r.Reserve(1))

	again, added := r.Upsert(database.Campaign{ID: 1, ConcurrentCalls: 4})
	assert.False(t, added)
	assert.Equal(t, stop, again)

	_, slots, _ := r.Available(1)
	assert.Equal(t, 3, slots)
}

func TestRegistryRemoveKeepsCounter(t *testing.T) {
	r := NewRegistry()
	stop, _ := r.Upsert(database.Campaign{ID: 7, ConcurrentCalls: 2})
	require.True(t, r.Reserve(7))

	assert.True(t, r.Remove(7))
	assert.False(t, r.Remove(7))
	_, open := <-stop
	assert.False(t, open)

	assert.False(t, r.Reserve(7), "untracked campaigns cannot dial")
	assert.Equal(t, 1, r.Current(7))
	r.Release(7)
	assert.Equal(t, 0, r.Current(7))
}

func TestRegistryCloseStopsAll(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Upsert(database.Campaign{ID: 2})
	b, _ := r.Upsert(database.Campaign{ID: 1})

	assert.Equal(t, []int64{1, 2}, r.IDs())
	assert.ElementsMatch(t, []int64{1, 2}, r.Close())
	assert.Empty(t, r.IDs())

	for _, ch := range []<-chan struct{}{a, b} {
		_, open := <-ch
		assert.False(t, open)
	}
}
