// ABOUTME: Tests for the dedupe result cache.
// ABOUTME: Validates TTL expiration, size limits, eviction order, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Get_NotStored(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	v, ok := cache.Get("never-stored")
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestCache_PutGet(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	cache.Put("key-1", "one")
	cache.Put("key-2", "two")

	v, ok := cache.Get("key-1")
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok = cache.Get("key-2")
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = cache.Get("key-3")
	assert.False(t, ok)
}

func TestCache_Get_Expired(t *testing.T) {
	cache := New[int](10*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("expiring-key", 1)
	_, ok := cache.Get("expiring-key")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = cache.Get("expiring-key")
	assert.False(t, ok)
}

func TestCache_Put_ReplacesAndRefreshes(t *testing.T) {
	cache := New[string](50*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("refresh-key", "old")
	time.Sleep(30 * time.Millisecond)
	cache.Put("refresh-key", "new")
	time.Sleep(30 * time.Millisecond)

	// Past the original TTL, but the second Put refreshed it
	v, ok := cache.Get("refresh-key")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New[int](5*time.Minute, 3)
	defer cache.Close()

	cache.Put("first", 1)
	cache.Put("second", 2)
	cache.Put("third", 3)

	cache.Put("fourth", 4)
	_, ok := cache.Get("first")
	assert.False(t, ok, "first should be evicted")

	cache.Put("fifth", 5)
	_, ok = cache.Get("second")
	assert.False(t, ok, "second should be evicted")

	for _, k := range []string{"third", "fourth", "fifth"} {
		_, ok := cache.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, cache.Len())
}

func TestCache_Eviction_RefreshMovesToBack(t *testing.T) {
	cache := New[int](5*time.Minute, 2)
	defer cache.Close()

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("a", 10) // a is now newest
	cache.Put("c", 3)  // evicts b

	_, ok := cache.Get("b")
	assert.False(t, ok)
	v, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_Cleanup(t *testing.T) {
	cache := New[int](10*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("cleanup-1", 1)
	cache.Put("cleanup-2", 2)
	cache.Put("cleanup-3", 3)

	time.Sleep(20 * time.Millisecond)

	// Cleanup runs every minute; trigger it directly
	cache.runCleanup()

	assert.Equal(t, 0, cache.Len(), "cleanup should remove expired entries from map")
	assert.Equal(t, 0, cache.order.Len(), "cleanup should remove expired entries from list")
}

func TestCache_MinimumSize(t *testing.T) {
	cache := New[int](time.Minute, 0)
	defer cache.Close()

	cache.Put("a", 1)
	cache.Put("b", 2)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Concurrent(t *testing.T) {
	cache := New[int](5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", id%26, j%10)
				cache.Put(key, j)
				cache.Get(key)
			}
		}(i)
	}

	wg.Wait()

	cache.Put("final-key", 1)
	_, ok := cache.Get("final-key")
	assert.True(t, ok)
}

func TestCache_Close(t *testing.T) {
	cache := New[string](5*time.Minute, 100)

	cache.Put("before-close", "x")
	_, ok := cache.Get("before-close")
	assert.True(t, ok)

	// Multiple closes should not panic
	cache.Close()
	cache.Close()
}
