// Package btree is the immutable, persistent, copy-on-write B-tree built
// on top of pkg/store. Every mutation writes new nodes and returns a new
// Tree value sharing the same underlying Store; the old Tree value remains
// a valid, readable snapshot until no one holds it any longer. Algorithmic
// shape (offset-keyed nodes, path rewrite with leaf/branch splits) is
// grounded in the Govetachun-Go-DB on-disk B-tree, translated from
// page-number + mmap addressing to direct store offsets.
package btree

import (
	"bytes"
	"sort"

	"cubdb/pkg/dberrors"
	"cubdb/pkg/store"
	"cubdb/pkg/types"
	"cubdb/pkg/valuecodec"
)

// defaultCacheCapacity bounds the number of decoded nodes kept in memory
// per Store.
const defaultCacheCapacity = 4096

// Tree is an immutable snapshot of a B-tree at a given root offset.
// Methods never mutate the receiver; they return a new *Tree.
type Tree struct {
	store *store.Store
	cmp   types.Comparator
	order int

	root int64
	size uint64
	dirt uint64

	cache *nodeCache
}

// Open loads the newest committed header from s, or creates an empty tree
// if s has none.
func Open(s *store.Store, order int, cmp types.Comparator) (*Tree, error) {
	if cmp == nil {
		cmp = bytes.Compare
	}
	if order < 3 {
		return nil, &dberrors.InvalidConfigError{Reason: "btree order must be >= 3"}
	}

	offset, header, found, err := s.LatestHeader()
	if err != nil {
		return nil, err
	}
	if found {
		return &Tree{
			store: s,
			cmp:   cmp,
			order: order,
			root:  header.RootOffset,
			size:  header.Size,
			dirt:  header.Dirt,
			cache: newNodeCache(defaultCacheCapacity),
		}, nil
	}

	rootOffset, err := s.Append(store.TagLeaf, encodeLeaf(nil))
	if err != nil {
		return nil, err
	}
	if _, err := s.AppendHeader(rootOffset, 0, 0); err != nil {
		return nil, err
	}
	if err := s.Sync(); err != nil {
		return nil, err
	}
	_ = offset
	return &Tree{
		store: s,
		cmp:   cmp,
		order: order,
		root:  rootOffset,
		size:  0,
		dirt:  0,
		cache: newNodeCache(defaultCacheCapacity),
	}, nil
}

func (t *Tree) clone() *Tree {
	cp := *t
	return &cp
}

// Size is the count of live (non-tombstoned) leaf entries.
func (t *Tree) Size() uint64 { return t.size }

// Dirt is the count of mutations committed into this file since birth.
func (t *Tree) Dirt() uint64 { return t.dirt }

// DirtFactor is dirt / (dirt + size + 1): monotone non-decreasing in dirt
// at fixed size, 0 for a freshly compacted tree.
func (t *Tree) DirtFactor() float64 {
	return float64(t.dirt) / float64(t.dirt+t.size+1)
}

// RootOffset identifies this snapshot; it is the value a Snapshot pins.
func (t *Tree) RootOffset() int64 { return t.root }

func (t *Tree) loadNode(offset int64) (decodedNode, error) {
	if n, ok := t.cache.get(offset); ok {
		return n, nil
	}
	tag, payload, err := t.store.ReadAt(offset)
	if err != nil {
		return decodedNode{}, err
	}
	var n decodedNode
	n.tag = tag
	switch tag {
	case store.TagLeaf:
		entries, err := decodeLeaf(payload)
		if err != nil {
			return decodedNode{}, err
		}
		n.leaf = entries
	case store.TagBranch:
		entries, err := decodeBranch(payload)
		if err != nil {
			return decodedNode{}, err
		}
		n.branch = entries
	default:
		return decodedNode{}, dberrors.NewIOError(errUnexpectedTag(tag))
	}
	t.cache.put(offset, n)
	return n, nil
}

func (t *Tree) writeValue(value []byte) (int64, error) {
	return t.store.Append(store.TagValue, valuecodec.Encode(value))
}

func (t *Tree) writeTombstone() (int64, error) {
	return t.store.Append(store.TagDeleted, nil)
}

// findChildIndex returns the index of the branch entry whose key range
// contains key: the largest i such that entries[i].minKey <= key, or 0 if
// key is smaller than every recorded minKey (the subtree at 0 still holds
// the smallest keys seen so far and absorbs anything smaller still).
func (t *Tree) findChildIndex(entries []branchEntry, key []byte) int {
	idx := sort.Search(len(entries), func(i int) bool {
		return t.cmp(entries[i].minKey, key) > 0
	}) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (t *Tree) findLeafIndex(entries []leafEntry, key []byte) (int, bool) {
	idx := sort.Search(len(entries), func(i int) bool {
		return t.cmp(entries[i].key, key) >= 0
	})
	if idx < len(entries) && t.cmp(entries[idx].key, key) == 0 {
		return idx, true
	}
	return idx, false
}

// insertResult is what a copy-on-write subtree rewrite produces: the
// rewritten node's offset, its (possibly updated) minimum key, and — if the
// node had to split — the right sibling's offset and minimum key.
type insertResult struct {
	offset  int64
	minKey  []byte
	splitOK bool
	splitMinKey []byte
	splitOffset int64
}

func (t *Tree) insertLeaf(offset int64, key []byte, valRef int64) (insertResult, bool, error) {
	n, err := t.loadNode(offset)
	if err != nil {
		return insertResult{}, false, err
	}
	entries := n.leaf
	idx, found := t.findLeafIndex(entries, key)

	newEntries := make([]leafEntry, len(entries))
	copy(newEntries, entries)
	isNew := !found
	if found {
		newEntries[idx].valRef = valRef
	} else {
		newEntries = append(newEntries, leafEntry{})
		copy(newEntries[idx+1:], newEntries[idx:])
		newEntries[idx] = leafEntry{key: append([]byte{}, key...), valRef: valRef}
	}

	if len(newEntries) <= t.order-1 {
		newOffset, err := t.store.Append(store.TagLeaf, encodeLeaf(newEntries))
		if err != nil {
			return insertResult{}, false, err
		}
		return insertResult{offset: newOffset, minKey: newEntries[0].key}, isNew, nil
	}

	mid := len(newEntries) / 2
	left, right := newEntries[:mid], newEntries[mid:]
	leftOffset, err := t.store.Append(store.TagLeaf, encodeLeaf(left))
	if err != nil {
		return insertResult{}, false, err
	}
	rightOffset, err := t.store.Append(store.TagLeaf, encodeLeaf(right))
	if err != nil {
		return insertResult{}, false, err
	}
	return insertResult{
		offset:      leftOffset,
		minKey:      left[0].key,
		splitOK:     true,
		splitMinKey: right[0].key,
		splitOffset: rightOffset,
	}, isNew, nil
}

func (t *Tree) insertBranch(offset int64, key []byte, valRef int64) (insertResult, bool, error) {
	n, err := t.loadNode(offset)
	if err != nil {
		return insertResult{}, false, err
	}
	entries := n.branch
	idx := t.findChildIndex(entries, key)

	var childRes insertResult
	var isNew bool
	if t.isBranchChild(entries[idx].child) {
		childRes, isNew, err = t.insertBranch(entries[idx].child, key, valRef)
	} else {
		childRes, isNew, err = t.insertLeaf(entries[idx].child, key, valRef)
	}
	if err != nil {
		return insertResult{}, false, err
	}

	newEntries := make([]branchEntry, len(entries))
	copy(newEntries, entries)
	newEntries[idx].child = childRes.offset
	if idx == 0 && t.cmp(key, newEntries[0].minKey) < 0 {
		newEntries[idx].minKey = append([]byte{}, key...)
	}

	if childRes.splitOK {
		newEntries = append(newEntries, branchEntry{})
		copy(newEntries[idx+2:], newEntries[idx+1:])
		newEntries[idx+1] = branchEntry{minKey: childRes.splitMinKey, child: childRes.splitOffset}
	}

	if len(newEntries) <= t.order {
		newOffset, err := t.store.Append(store.TagBranch, encodeBranch(newEntries))
		if err != nil {
			return insertResult{}, false, err
		}
		return insertResult{offset: newOffset, minKey: newEntries[0].minKey}, isNew, nil
	}

	mid := len(newEntries) / 2
	left, right := newEntries[:mid], newEntries[mid:]
	leftOffset, err := t.store.Append(store.TagBranch, encodeBranch(left))
	if err != nil {
		return insertResult{}, false, err
	}
	rightOffset, err := t.store.Append(store.TagBranch, encodeBranch(right))
	if err != nil {
		return insertResult{}, false, err
	}
	return insertResult{
		offset:      leftOffset,
		minKey:      left[0].minKey,
		splitOK:     true,
		splitMinKey: right[0].minKey,
		splitOffset: rightOffset,
	}, isNew, nil
}

// isBranchChild reports whether offset refers to a Branch node, consulting
// the cache first and falling back to a tag-only store read.
func (t *Tree) isBranchChild(offset int64) bool {
	if n, ok := t.cache.get(offset); ok {
		return n.tag == store.TagBranch
	}
	tag, _, err := t.store.ReadAt(offset)
	if err != nil {
		return false
	}
	return tag == store.TagBranch
}

func (t *Tree) insertRoot(key []byte, valRef int64) (insertResult, bool, error) {
	if t.isBranchChild(t.root) {
		return t.insertBranch(t.root, key, valRef)
	}
	return t.insertLeaf(t.root, key, valRef)
}

// mutate applies a root-level insert result to a cloned tree, growing the
// root into a new branch when the top-level rewrite split.
func (t *Tree) mutate(res insertResult, isNew bool, commit bool) (*Tree, error) {
	next := t.clone()
	next.root = res.offset
	if res.splitOK {
		rootEntries := []branchEntry{
			{minKey: res.minKey, child: res.offset},
			{minKey: res.splitMinKey, child: res.splitOffset},
		}
		newRoot, err := t.store.Append(store.TagBranch, encodeBranch(rootEntries))
		if err != nil {
			return nil, err
		}
		next.root = newRoot
	}
	next.dirt++
	if isNew {
		next.size++
	}
	if commit {
		if err := next.Commit(); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Insert writes key/value as a new copy-on-write path and returns the
// resulting tree. When commit is false the header is not written; the
// caller must eventually call Commit to publish the new root.
func (t *Tree) Insert(key, value []byte, commit bool) (*Tree, error) {
	prevTag, _, existed, err := t.LookupRaw(key)
	if err != nil {
		return nil, err
	}
	valRef, err := t.writeValue(value)
	if err != nil {
		return nil, err
	}
	res, _, err := t.insertRoot(key, valRef)
	if err != nil {
		return nil, err
	}
	// A key whose only entry is a tombstone becomes live again.
	return t.mutate(res, !existed || prevTag == store.TagDeleted, commit)
}

// MarkDeleted writes an explicit tombstone node and inserts it at key's
// leaf position, the same way Insert would place a value — used only
// while a compaction is in flight so the snapshot it reads still observes
// the deletion.
func (t *Tree) MarkDeleted(key []byte, commit bool) (*Tree, error) {
	prevTag, _, existed, err := t.LookupRaw(key)
	if err != nil {
		return nil, err
	}
	tombstone, err := t.writeTombstone()
	if err != nil {
		return nil, err
	}
	res, _, err := t.insertRoot(key, tombstone)
	if err != nil {
		return nil, err
	}
	// Never let mutate's generic "new key" accounting apply: a tombstone
	// never adds a live entry. If the key already had a live entry, this
	// removes it.
	next, err := t.mutate(res, false, false)
	if err != nil {
		return nil, err
	}
	if existed && prevTag == store.TagValue {
		next.size--
	}
	if commit {
		if err := next.Commit(); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (t *Tree) deleteNode(offset int64, key []byte) (int64, bool, error) {
	n, err := t.loadNode(offset)
	if err != nil {
		return 0, false, err
	}
	if n.tag == store.TagLeaf {
		idx, found := t.findLeafIndex(n.leaf, key)
		if !found {
			return offset, false, nil
		}
		newEntries := make([]leafEntry, 0, len(n.leaf)-1)
		newEntries = append(newEntries, n.leaf[:idx]...)
		newEntries = append(newEntries, n.leaf[idx+1:]...)
		newOffset, err := t.store.Append(store.TagLeaf, encodeLeaf(newEntries))
		if err != nil {
			return 0, false, err
		}
		return newOffset, true, nil
	}

	idx := t.findChildIndex(n.branch, key)
	childOffset, removed, err := t.deleteNode(n.branch[idx].child, key)
	if err != nil {
		return 0, false, err
	}
	if !removed {
		return offset, false, nil
	}
	newEntries := make([]branchEntry, len(n.branch))
	copy(newEntries, n.branch)
	newEntries[idx].child = childOffset
	newOffset, err := t.store.Append(store.TagBranch, encodeBranch(newEntries))
	if err != nil {
		return 0, false, err
	}
	return newOffset, true, nil
}

// Delete physically removes key's leaf entry if present. dirt always
// increases by 1, even when the key was absent — the write attempt still
// touched the file, and the auto-compact heuristic depends on that.
func (t *Tree) Delete(key []byte, commit bool) (*Tree, error) {
	prevTag, _, _, err := t.LookupRaw(key)
	if err != nil {
		return nil, err
	}
	newRoot, removed, err := t.deleteNode(t.root, key)
	if err != nil {
		return nil, err
	}
	next := t.clone()
	next.dirt++
	if removed {
		next.root = newRoot
		if prevTag == store.TagValue {
			next.size--
		}
	}
	if commit {
		if err := next.Commit(); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Commit writes a header node for the tree's current root/size/dirt and
// syncs the store. It must be called after any Insert/Delete/MarkDeleted
// performed with commit=false.
func (t *Tree) Commit() error {
	if _, err := t.store.AppendHeader(t.root, t.size, t.dirt); err != nil {
		return err
	}
	return t.store.Sync()
}

// Lookup returns key's value, or found=false if absent or tombstoned.
func (t *Tree) Lookup(key []byte) ([]byte, bool, error) {
	valRef, found, err := t.lookupRef(key)
	if err != nil || !found {
		return nil, false, err
	}
	tag, payload, err := t.store.ReadAt(valRef)
	if err != nil {
		return nil, false, err
	}
	if tag == store.TagDeleted {
		return nil, false, nil
	}
	value, err := valuecodec.Decode(payload)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// HasKey reports whether key is present (and not tombstoned), returning
// its value when it is.
func (t *Tree) HasKey(key []byte) (bool, []byte, error) {
	value, found, err := t.Lookup(key)
	return found, value, err
}

func (t *Tree) lookupRef(key []byte) (int64, bool, error) {
	offset := t.root
	for {
		n, err := t.loadNode(offset)
		if err != nil {
			return 0, false, err
		}
		if n.tag == store.TagLeaf {
			idx, found := t.findLeafIndex(n.leaf, key)
			if !found {
				return 0, false, nil
			}
			return n.leaf[idx].valRef, true, nil
		}
		idx := t.findChildIndex(n.branch, key)
		offset = n.branch[idx].child
	}
}

// LookupRaw finds key's leaf entry without resolving past a tombstone,
// returning the referenced node's tag (Value or Deleted) directly. Used by
// CatchUp to tell "never written" apart from "written then deleted" in
// the snapshot a compaction consumed.
func (t *Tree) LookupRaw(key []byte) (tag store.Tag, ref int64, found bool, err error) {
	ref, found, err = t.lookupRef(key)
	if err != nil || !found {
		return 0, 0, false, err
	}
	tag, _, err = t.store.ReadAt(ref)
	if err != nil {
		return 0, 0, false, err
	}
	return tag, ref, true, nil
}

func errUnexpectedTag(tag store.Tag) error {
	return &unexpectedTagError{tag: tag}
}

type unexpectedTagError struct{ tag store.Tag }

func (e *unexpectedTagError) Error() string {
	return "btree: unexpected node tag " + e.tag.String() + " where leaf or branch was expected"
}
