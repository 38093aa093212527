// ABOUTME: Tests for the seen-message-ID set
// ABOUTME: Validates first-sighting semantics, expiry, eviction, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	c := New(ttl, maxSize)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.now
	return c, clock
}

// seen reports whether id is live without recording it.
func seen(c *Cache, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(id)
}

func size(c *Cache) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func TestCache_AddReportsFirstSighting(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	defer c.Close()

	assert.False(t, seen(c, "msg-1"))
	assert.True(t, c.Add("msg-1"), "first add is new")
	assert.False(t, c.Add("msg-1"), "second add is a duplicate")
	assert.True(t, seen(c, "msg-1"))
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Add("msg-1")
	clock.advance(30 * time.Second)
	assert.True(t, seen(c, "msg-1"))

	clock.advance(31 * time.Second)
	assert.False(t, seen(c, "msg-1"))
	assert.True(t, c.Add("msg-1"), "expired id counts as new again")
	assert.Equal(t, 1, size(c))
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	defer c.Close()

	for _, id := range []string{"a", "b", "c"} {
		c.Add(id)
		clock.advance(time.Second)
	}
	c.Add("d")

	assert.Equal(t, 3, size(c))
	assert.False(t, seen(c, "a"), "oldest should be evicted")
	for _, id := range []string{"b", "c", "d"} {
		assert.True(t, seen(c, id), "%s should remain", id)
	}
}

func TestCache_DuplicateAddDoesNotRefreshAge(t *testing.T) {
	c, _ := newTestCache(time.Hour, 2)
	defer c.Close()

	c.Add("a")
	c.Add("b")
	c.Add("a") // duplicate, "a" stays oldest
	c.Add("c")

	assert.False(t, seen(c, "a"))
	assert.True(t, seen(c, "b"))
	assert.True(t, seen(c, "c"))
}

func TestCache_SweepRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Add("old-1")
	c.Add("old-2")
	clock.advance(45 * time.Second)
	c.Add("fresh")
	clock.advance(30 * time.Second)

	c.sweep()

	assert.Equal(t, 1, size(c))
	assert.True(t, seen(c, "fresh"))
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()

	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_ConcurrentAddHasSingleWinner(t *testing.T) {
	c := New(time.Hour, 1000)
	defer c.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if c.Add("contested") {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCache_ConcurrentMixedUse(t *testing.T) {
	c := New(time.Hour, 100)
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 50 {
				id := fmt.Sprintf("msg-%d-%d", i, j)
				c.Add(id)
				seen(c, id)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, size(c), 100)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Hour, 10)
	c.Close()
	c.Close()
}
