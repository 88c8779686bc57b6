// Package cache provides the compiled-kernel cache: a byte-budgeted LRU
// keyed by Fingerprint, with at-most-one-concurrent-compile per key and an
// optional disk store that is read on a miss but never written. A cache failure or a disk-store error never
// fails a compile: the caller always falls through to recompiling.
package cache

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Artifact is anything the kernel cache can store: a compiled backend
// output plus its size in bytes for budget accounting.
type Artifact interface {
	SizeBytes() int
}

// DiskStore holds encoded artifacts under a Fingerprint's key. KernelCache
// only reads from it: GetOrCompile calls Load on a resident miss and never
// calls Save, so artifacts compiled by this process are not written to
// disk. Load errors are ignored without being logged and never propagate
// as compile failures.
type DiskStore interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, bool, error)
}

type entry struct {
	key      string
	artifact Artifact
	refs     int
	size     int
}

// KernelCache holds compiled artifacts in an LRU ordered by last access,
// bounded by total byte size rather than entry count, since artifacts for
// different backends vary in size by orders of magnitude. Entries with a
// positive reference count (pinned via Acquire, released via Release) are
// never evicted regardless of LRU position.
type KernelCache struct {
	mu        sync.Mutex
	budget    int
	used      int
	list      *list.List
	items     map[string]*list.Element
	disk      DiskStore
	inflight  singleflight.Group
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewKernelCache creates a cache bounded to budgetBytes of resident
// artifacts. A nil disk passes through without persistence.
func NewKernelCache(budgetBytes int, disk DiskStore) *KernelCache {
	if budgetBytes <= 0 {
		budgetBytes = 256 << 20
	}
	return &KernelCache{
		budget: budgetBytes,
		list:   list.New(),
		items:  make(map[string]*list.Element),
		disk:   disk,
	}
}

// CompileFunc produces an Artifact for a cache miss. It is invoked at most
// once per Fingerprint concurrently, even if many goroutines request the
// same key at once: later callers block on and receive the first
// invocation's result.
type CompileFunc func() (Artifact, error)

// GetOrCompile returns the cached artifact for fp if present, otherwise
// runs compile exactly once (deduplicating concurrent callers for the same
// fp) and stores the result in memory. If a disk store is configured and a
// resident entry is missing, a disk hit is tried before falling through to
// compile; a freshly compiled artifact is not written to the disk store.
// Disk read and decode errors are swallowed; they only ever cost a
// recompilation, never surface as a GetOrCompile error.
func (c *KernelCache) GetOrCompile(fp Fingerprint, decode func([]byte) (Artifact, error), compile CompileFunc) (Artifact, error) {
	key := fp.Key()

	if art, ok := c.get(key); ok {
		return art, nil
	}

	if c.disk != nil && decode != nil {
		if data, found, err := c.disk.Load(key); err == nil && found {
			if art, err := decode(data); err == nil {
				c.put(key, art)
				return art, nil
			}
		}
	}

	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		art, err := compile()
		if err != nil {
			return nil, err
		}
		c.put(key, art)
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Artifact), nil
}

func (c *KernelCache) get(key string) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.list.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry).artifact, true
}

func (c *KernelCache) put(key string, art Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*entry)
		c.used -= old.size
		old.artifact = art
		old.size = art.SizeBytes()
		c.used += old.size
		c.list.MoveToFront(elem)
		c.evictIfOverBudget()
		return
	}

	e := &entry{key: key, artifact: art, size: art.SizeBytes()}
	elem := c.list.PushFront(e)
	c.items[key] = elem
	c.used += e.size
	c.evictIfOverBudget()
}

// evictIfOverBudget walks from the back of the LRU list, skipping pinned
// (refs > 0) entries, until the cache is back under budget or every
// remaining entry is pinned.
func (c *KernelCache) evictIfOverBudget() {
	elem := c.list.Back()
	for c.used > c.budget && elem != nil {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.refs == 0 {
			c.list.Remove(elem)
			delete(c.items, e.key)
			c.used -= e.size
			c.evictions++
		}
		elem = prev
	}
}

// Acquire pins the entry for key so evictIfOverBudget will not remove it.
// The caller must pair every Acquire with a Release. Acquire on a key not
// currently resident is a no-op: pinning only protects what is present.
func (c *KernelCache) Acquire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).refs++
	}
}

// Release unpins one reference previously taken by Acquire.
func (c *KernelCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		if e := elem.Value.(*entry); e.refs > 0 {
			e.refs--
		}
	}
}

// Stats reports cumulative hit/miss/eviction counters.
func (c *KernelCache) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Len reports the number of resident entries.
func (c *KernelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
