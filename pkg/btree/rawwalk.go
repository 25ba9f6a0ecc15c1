package btree

import "cubdb/pkg/store"

// RawEntry is one leaf position as physically stored, tombstones included
// — unlike Cursor, which only ever surfaces live entries.
type RawEntry struct {
	Key []byte
	Tag store.Tag // TagValue or TagDeleted
	Ref int64     // offset of the Value or Deleted node
}

// WalkRaw visits every leaf entry in ascending key order, tombstones
// included, stopping at the first error visit returns. CatchUp uses this
// to find both the updated values and the deletions a compaction window
// needs replayed onto the tree it compacted.
func (t *Tree) WalkRaw(visit func(RawEntry) error) error {
	return t.walkRawNode(t.root, visit)
}

func (t *Tree) walkRawNode(offset int64, visit func(RawEntry) error) error {
	n, err := t.loadNode(offset)
	if err != nil {
		return err
	}
	if n.tag == store.TagLeaf {
		for _, e := range n.leaf {
			tag, _, err := t.store.ReadAt(e.valRef)
			if err != nil {
				return err
			}
			if err := visit(RawEntry{Key: e.key, Tag: tag, Ref: e.valRef}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range n.branch {
		if err := t.walkRawNode(e.child, visit); err != nil {
			return err
		}
	}
	return nil
}
