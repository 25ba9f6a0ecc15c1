package btree

import (
	"sync/atomic"

	"cubdb/pkg/store"

	"github.com/zhangyunhao116/skipmap"
)

// decodedNode is whichever of leaf/branch entries applies to a given tag.
type decodedNode struct {
	tag    store.Tag
	leaf   []leafEntry
	branch []branchEntry
}

// nodeCache is a bounded offset->decoded-node cache. Nodes are immutable
// once written, so unlike the teacher's block cache there is no
// invalidation path; a node once cached stays correct forever. Expansion of
// the teacher's doubly-linked LRU (pkg/persistence/block_cache.go),
// re-expressed over skipmap since strict recency ordering isn't needed for
// correctness, only a cap on memory growth.
type nodeCache struct {
	capacity int
	entries  *skipmap.FuncMap[int64, decodedNode]
	count    atomic.Int64
}

func newNodeCache(capacity int) *nodeCache {
	return &nodeCache{
		capacity: capacity,
		entries: skipmap.NewFunc[int64, decodedNode](func(a, b int64) bool {
			return a < b
		}),
	}
}

func (c *nodeCache) get(offset int64) (decodedNode, bool) {
	return c.entries.Load(offset)
}

func (c *nodeCache) put(offset int64, n decodedNode) {
	if c.count.Load() >= int64(c.capacity) {
		// Coarse-grained eviction: drop everything rather than track
		// per-entry recency. Cheap and correct since nodes are immutable;
		// the cost is a burst of cache misses right after a clear.
		c.entries.Range(func(key int64, _ decodedNode) bool {
			c.entries.Delete(key)
			return true
		})
		c.count.Store(0)
	}
	if _, loaded := c.entries.LoadOrStore(offset, n); !loaded {
		c.count.Add(1)
	}
}
