// Package cache implements the bounded, insertion-ordered content cache:
// a FIFO of (content_id, bytes) pairs whose key must equal the hash of its
// value, with self-shrinking capacity on integrity violations.
package cache

import (
	"bytes"
	"container/list"
	"sync"

	"github.com/noisenet/routing/crypto"
)

// DefaultSizeHint is K_CACHE, the default soft capacity.
const DefaultSizeHint = 100

// entry is a single cached (content_id, bytes) pair.
type entry struct {
	contentID []byte
	data      []byte
}

// Cache is a bounded FIFO content-address cache. Insertion is at the tail;
// eviction is from the head when size exceeds the hint; lookup scans for
// equality on content_id. Not persisted.
type Cache struct {
	hasher crypto.HashPolicy

	mu       sync.Mutex
	sizeHint int
	entries  *list.List
}

// New constructs a cache using hasher to verify content_id == hash(bytes).
func New(hasher crypto.HashPolicy) *Cache {
	return &Cache{
		hasher:   hasher,
		sizeHint: DefaultSizeHint,
		entries:  list.New(),
	}
}

// SizeHint returns the current soft capacity.
func (c *Cache) SizeHint() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeHint
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Put verifies contentID == hash(data) and, on success, appends the entry,
// evicting the oldest entry if the cache now exceeds its size hint.
// On verification failure the cache's size hint is halved (floor 1), the
// cache is truncated to the new hint, and the entry is dropped; ok reports
// whether the entry was actually cached.
func (c *Cache) Put(contentID, data []byte) (ok bool) {
	if !bytes.Equal(c.hasher.HashBytes(data), contentID) {
		c.shrink()
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.PushBack(&entry{contentID: append([]byte(nil), contentID...), data: append([]byte(nil), data...)})
	for c.entries.Len() > c.sizeHint {
		c.entries.Remove(c.entries.Front())
	}
	return true
}

// shrink halves the size hint (never below 1) and truncates the cache to
// the new hint, evicting from the head.
func (c *Cache) shrink() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sizeHint /= 2
	if c.sizeHint < 1 {
		c.sizeHint = 1
	}
	for c.entries.Len() > c.sizeHint {
		c.entries.Remove(c.entries.Front())
	}
}

// Get scans the cache for an entry whose content_id equals key, returning
// its bytes and true on a hit.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.entries.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if bytes.Equal(ent.contentID, key) {
			out := make([]byte, len(ent.data))
			copy(out, ent.data)
			return out, true
		}
	}
	return nil, false
}
