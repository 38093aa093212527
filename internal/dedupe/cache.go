// ABOUTME: Bounded set of recently seen message IDs with time-based expiry
// ABOUTME: Lets a client session reconcile pushed messages with fetched history

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an ID is remembered when no TTL is given.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxSize caps the number of remembered IDs when no size is given.
	DefaultMaxSize = 10000
	sweepInterval  = time.Minute
)

type entry struct {
	id     string
	seenAt time.Time
}

// Cache is a thread-safe set of message IDs. IDs expire after the TTL and the
// oldest is evicted once the set is full. Entries are never refreshed, so the
// list front is always the oldest and the sweeper can stop at the first live entry.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // of *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache. Zero values select DefaultTTL and DefaultMaxSize.
// A background goroutine sweeps expired IDs until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Add remembers id and reports whether it was new. Checking and recording
// happen under one lock, so concurrent callers agree on a single first sighting.
func (c *Cache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(id) {
		return false
	}
	c.insertLocked(id)
	return true
}

func (c *Cache) liveLocked(id string) bool {
	elem, ok := c.index[id]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*entry).seenAt) < c.ttl
}

func (c *Cache) insertLocked(id string) {
	// an expired entry for the same id is replaced, not refreshed in place
	if elem, ok := c.index[id]; ok {
		c.order.Remove(elem)
		delete(c.index, id)
	}
	for len(c.index) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[id] = c.order.PushBack(&entry{id: id, seenAt: c.now()})
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.index, elem.Value.(*entry).id)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired IDs from the front of the list.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
