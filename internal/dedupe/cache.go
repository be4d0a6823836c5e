// ABOUTME: Thread-safe TTL cache that remembers which client message ids were already sent.
// ABOUTME: The dispatcher claims a key before persisting and releases it if the send fails.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   string
	claimed time.Time
}

// Cache is a TTL-based, size-limited set of claimed keys, each carrying the
// value recorded by the first claimant. The oldest claim is evicted first when
// the cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element // key -> element holding *entry
	order   *list.List               // oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts a background sweep of expired claims.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < 2*time.Second:
		return time.Second
	case ttl > 2*time.Minute:
		return time.Minute
	default:
		return ttl / 2
	}
}

// Key scopes a client-chosen id to its sender so users cannot collide.
func Key(senderID, clientID string) string {
	return senderID + "\x00" + clientID
}

// Claim records key with value unless a live claim already exists. It returns
// the value of the existing claim and true for a duplicate, or value and false
// when this call won the claim.
func (c *Cache) Claim(key, value string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return e.value, true
		}
		c.removeLocked(elem)
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front)
		}
	}

	c.entries[key] = c.order.PushBack(&entry{key: key, value: value, claimed: now})
	return value, false
}

// lookup returns the value of a live claim.
func (c *Cache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}
	e := elem.Value.(*entry)
	if c.now().Sub(e.claimed) >= c.ttl {
		return "", false
	}
	return e.value, true
}

// Release drops a claim so the key can be claimed again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of stored claims, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := c.order.Remove(elem).(*entry)
	delete(c.entries, e.key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
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

// sweep removes expired claims. Claims are ordered by time, so it stops at
// the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).claimed) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
