package btree

import (
	"cubdb/pkg/store"
	"cubdb/pkg/valuecodec"
)

// LeafSizer decides how many entries the next leaf should hold, given the
// configured default (order-1). Compaction uses this to jitter leaf sizes
// slightly so a freshly compacted file doesn't look suspiciously uniform.
type LeafSizer func(defaultSize int) int

// BulkLoad streams source's live entries in ascending key order into a
// fresh target Store, building leaves then branch levels bottom-up, and
// commits a zero-dirt header. This is the compactor's core: the result
// has the same live entries as source, optimal fanout, and no tombstones.
func BulkLoad(target *store.Store, order int, source *Tree, sizer LeafSizer) (*Tree, error) {
	if sizer == nil {
		sizer = func(defaultSize int) int { return defaultSize }
	}
	cursor, err := source.Range(nil, nil, false, false, false)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	type levelEntry struct {
		minKey []byte
		offset int64
	}

	var leafLevel []levelEntry
	var size uint64

	for cursor.Valid() {
		targetCount := sizer(order - 1)
		if targetCount < 1 {
			targetCount = 1
		}
		entries := make([]leafEntry, 0, targetCount)
		for cursor.Valid() && len(entries) < targetCount {
			key := append([]byte{}, cursor.Key()...)
			value := append([]byte{}, cursor.Value()...)
			valOffset, err := target.Append(store.TagValue, valuecodec.Encode(value))
			if err != nil {
				return nil, err
			}
			entries = append(entries, leafEntry{key: key, valRef: valOffset})
			size++
			cursor.Next()
		}
		if cErr := cursor.Err(); cErr != nil {
			return nil, cErr
		}
		leafOffset, err := target.Append(store.TagLeaf, encodeLeaf(entries))
		if err != nil {
			return nil, err
		}
		minKey := []byte(nil)
		if len(entries) > 0 {
			minKey = entries[0].key
		}
		leafLevel = append(leafLevel, levelEntry{minKey: minKey, offset: leafOffset})
	}

	if len(leafLevel) == 0 {
		rootOffset, err := target.Append(store.TagLeaf, encodeLeaf(nil))
		if err != nil {
			return nil, err
		}
		leafLevel = append(leafLevel, levelEntry{minKey: nil, offset: rootOffset})
	}

	level := leafLevel
	for len(level) > 1 {
		var next []levelEntry
		for start := 0; start < len(level); start += order {
			end := start + order
			if end > len(level) {
				end = len(level)
			}
			group := level[start:end]
			entries := make([]branchEntry, len(group))
			for i, g := range group {
				entries[i] = branchEntry{minKey: g.minKey, child: g.offset}
			}
			branchOffset, err := target.Append(store.TagBranch, encodeBranch(entries))
			if err != nil {
				return nil, err
			}
			next = append(next, levelEntry{minKey: group[0].minKey, offset: branchOffset})
		}
		level = next
	}

	rootOffset := level[0].offset
	if _, err := target.AppendHeader(rootOffset, size, 0); err != nil {
		return nil, err
	}
	if err := target.Sync(); err != nil {
		return nil, err
	}

	return &Tree{
		store: target,
		cmp:   source.cmp,
		order: order,
		root:  rootOffset,
		size:  size,
		dirt:  0,
		cache: newNodeCache(defaultCacheCapacity),
	}, nil
}
