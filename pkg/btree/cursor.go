package btree

import (
	"cubdb/pkg/store"
	"cubdb/pkg/types"
	"cubdb/pkg/valuecodec"
)

// branchFrame is one level of a cursor's descent path: the branch node's
// entries and which child is currently being visited.
type branchFrame struct {
	entries []branchEntry
	idx     int
}

// Cursor is a lazy, streaming traversal over a Tree's live entries within
// [minKey, maxKey], ascending unless reverse is set. It implements
// pkg/iterator.Iterator, the teacher's generic cursor shape adapted from
// byte-slice iteration to offset-based node descent. Advancing never
// materializes more than the current path of branch frames plus the
// current leaf's entries.
type Cursor struct {
	t *Tree

	stack       []branchFrame
	leafEntries []leafEntry
	leafIdx     int
	valid       bool

	minKey, maxKey             []byte
	minExclusive, maxExclusive bool
	reverse                    bool

	key   []byte
	value []byte
	err   error
}

// Range returns a Cursor over entries with minKey <= key <= maxKey
// (exclusivity controlled by minExclusive/maxExclusive; a nil bound means
// unbounded on that side), walking forward or in reverse, positioned at
// the first qualifying entry.
func (t *Tree) Range(minKey, maxKey []byte, minExclusive, maxExclusive, reverse bool) (*Cursor, error) {
	c := &Cursor{
		t:            t,
		minKey:       minKey,
		maxKey:       maxKey,
		minExclusive: minExclusive,
		maxExclusive: maxExclusive,
		reverse:      reverse,
	}
	c.First()
	return c, c.err
}

// forward reports whether natural (First/Next) iteration walks leaf
// entries in ascending index order.
func (c *Cursor) forward() bool { return !c.reverse }

func (c *Cursor) descendLeftmost(offset int64) {
	for {
		n, err := c.t.loadNode(offset)
		if err != nil {
			c.err = err
			c.valid = false
			return
		}
		if n.tag == store.TagLeaf {
			c.leafEntries = n.leaf
			c.leafIdx = 0
			return
		}
		c.stack = append(c.stack, branchFrame{entries: n.branch, idx: 0})
		offset = n.branch[0].child
	}
}

func (c *Cursor) descendRightmost(offset int64) {
	for {
		n, err := c.t.loadNode(offset)
		if err != nil {
			c.err = err
			c.valid = false
			return
		}
		if n.tag == store.TagLeaf {
			c.leafEntries = n.leaf
			c.leafIdx = len(n.leaf) - 1
			return
		}
		idx := len(n.branch) - 1
		c.stack = append(c.stack, branchFrame{entries: n.branch, idx: idx})
		offset = n.branch[idx].child
	}
}

// reset clears traversal state before a fresh descent.
func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.leafEntries = nil
	c.leafIdx = 0
	c.valid = true
	c.err = nil
}

// First positions the cursor at its natural starting point: the smallest
// qualifying key when ascending, the largest when reverse.
func (c *Cursor) First() {
	c.reset()
	if c.reverse {
		c.descendRightmost(c.t.root)
	} else {
		c.descendLeftmost(c.t.root)
	}
	c.settle(c.forward())
}

// Last positions the cursor at the opposite end from First.
func (c *Cursor) Last() {
	c.reset()
	if c.reverse {
		c.descendLeftmost(c.t.root)
	} else {
		c.descendRightmost(c.t.root)
	}
	c.settle(!c.forward())
}

// Seek moves to the first qualifying key >= target when ascending, or the
// first qualifying key <= target when reverse.
func (c *Cursor) Seek(target types.Key) {
	c.reset()

	offset := c.t.root
	for {
		n, err := c.t.loadNode(offset)
		if err != nil {
			c.err = err
			c.valid = false
			return
		}
		if n.tag == store.TagLeaf {
			c.leafEntries = n.leaf
			idx, _ := c.t.findLeafIndex(n.leaf, target)
			c.leafIdx = idx
			break
		}
		idx := c.t.findChildIndex(n.branch, target)
		c.stack = append(c.stack, branchFrame{entries: n.branch, idx: idx})
		offset = n.branch[idx].child
	}

	if c.reverse {
		// findLeafIndex returns the first index >= target; Seek in reverse
		// wants the last index <= target, one position back unless it
		// landed exactly on target.
		if c.leafIdx >= len(c.leafEntries) || c.t.cmp(c.leafEntries[c.leafIdx].key, target) != 0 {
			c.leafIdx--
		}
	}
	c.settle(c.forward())
}

// advanceFrame moves past the current leaf to the next (moveRight=true) or
// previous (moveRight=false) leaf in the tree, or invalidates the cursor
// when there is none.
func (c *Cursor) advanceFrame(moveRight bool) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if moveRight && top.idx+1 < len(top.entries) {
			top.idx++
			c.descendLeftmost(top.entries[top.idx].child)
			return
		}
		if !moveRight && top.idx-1 >= 0 {
			top.idx--
			c.descendRightmost(top.entries[top.idx].child)
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.valid = false
	c.leafEntries = nil
}

// settle skips tombstoned and out-of-bounds entries, stepping in
// direction moveRight (true = ascending leaf-entry index) until it lands
// on a qualifying live entry or exhausts the tree.
func (c *Cursor) settle(moveRight bool) {
	for {
		if c.err != nil {
			c.valid = false
			return
		}
		if c.leafEntries == nil || c.leafIdx < 0 || c.leafIdx >= len(c.leafEntries) {
			c.advanceFrame(moveRight)
			if !c.valid {
				return
			}
			continue
		}
		entry := c.leafEntries[c.leafIdx]
		if !c.withinBounds(entry.key) {
			if c.pastEnd(entry.key, moveRight) {
				c.valid = false
				return
			}
			c.step(moveRight)
			continue
		}
		tag, payload, err := c.t.store.ReadAt(entry.valRef)
		if err != nil {
			c.err = err
			c.valid = false
			return
		}
		if tag == store.TagDeleted {
			c.step(moveRight)
			continue
		}
		value, err := valuecodec.Decode(payload)
		if err != nil {
			c.err = err
			c.valid = false
			return
		}
		c.key = entry.key
		c.value = value
		c.valid = true
		return
	}
}

func (c *Cursor) step(moveRight bool) {
	if moveRight {
		c.leafIdx++
	} else {
		c.leafIdx--
	}
}

func (c *Cursor) withinBounds(key []byte) bool {
	if c.minKey != nil {
		cmp := c.t.cmp(key, c.minKey)
		if cmp < 0 || (cmp == 0 && c.minExclusive) {
			return false
		}
	}
	if c.maxKey != nil {
		cmp := c.t.cmp(key, c.maxKey)
		if cmp > 0 || (cmp == 0 && c.maxExclusive) {
			return false
		}
	}
	return true
}

// pastEnd reports whether key has gone past the qualifying range in the
// direction the cursor is stepping, so settle can stop rather than scan
// the remainder of the tree.
func (c *Cursor) pastEnd(key []byte, moveRight bool) bool {
	if moveRight && c.maxKey != nil {
		cmp := c.t.cmp(key, c.maxKey)
		return cmp > 0 || (cmp == 0 && c.maxExclusive)
	}
	if !moveRight && c.minKey != nil {
		cmp := c.t.cmp(key, c.minKey)
		return cmp < 0 || (cmp == 0 && c.minExclusive)
	}
	return false
}

// Next advances in the cursor's natural direction (ascending unless
// reverse).
func (c *Cursor) Next() {
	if !c.valid {
		return
	}
	c.step(c.forward())
	c.settle(c.forward())
}

// Prev moves opposite the cursor's natural direction.
func (c *Cursor) Prev() {
	if !c.valid {
		return
	}
	c.step(!c.forward())
	c.settle(!c.forward())
}

// Valid reports whether the cursor currently points at a live,
// in-bounds entry.
func (c *Cursor) Valid() bool { return c.valid && c.err == nil }

// Key returns the current entry's key.
func (c *Cursor) Key() types.Key { return c.key }

// Value returns the current entry's value.
func (c *Cursor) Value() types.Value { return c.value }

// Err returns the first error encountered during traversal, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor; it holds no resources beyond Go
// garbage-collected memory, so this only exists to satisfy the interface.
func (c *Cursor) Close() error { return nil }
