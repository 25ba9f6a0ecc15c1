package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"cubdb/pkg/dberrors"
)

// leafEntry is one (key, value-reference) pair in a Leaf node. valRef is
// the offset of either a Value node or a Deleted tombstone node.
type leafEntry struct {
	key    []byte
	valRef int64
}

// branchEntry is one (min_key, child-offset) pair in a Branch node.
type branchEntry struct {
	minKey []byte
	child  int64
}

func encodeLeaf(entries []leafEntry) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])
	for _, e := range entries {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.key)))
		buf.Write(lenBuf[:])
		buf.Write(e.key)
		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], uint64(e.valRef))
		buf.Write(offBuf[:])
	}
	return buf.Bytes()
}

func decodeLeaf(payload []byte) ([]leafEntry, error) {
	if len(payload) < 4 {
		return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated leaf header"))
	}
	count := int(binary.LittleEndian.Uint32(payload[0:4]))
	pos := 4
	entries := make([]leafEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(payload[pos:]) < 4 {
			return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated leaf entry %d", i))
		}
		keyLen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if len(payload[pos:]) < keyLen+8 {
			return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated leaf entry %d body", i))
		}
		key := make([]byte, keyLen)
		copy(key, payload[pos:pos+keyLen])
		pos += keyLen
		valRef := int64(binary.LittleEndian.Uint64(payload[pos : pos+8]))
		pos += 8
		entries = append(entries, leafEntry{key: key, valRef: valRef})
	}
	return entries, nil
}

func encodeBranch(entries []branchEntry) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])
	for _, e := range entries {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.minKey)))
		buf.Write(lenBuf[:])
		buf.Write(e.minKey)
		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], uint64(e.child))
		buf.Write(offBuf[:])
	}
	return buf.Bytes()
}

func decodeBranch(payload []byte) ([]branchEntry, error) {
	if len(payload) < 4 {
		return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated branch header"))
	}
	count := int(binary.LittleEndian.Uint32(payload[0:4]))
	pos := 4
	entries := make([]branchEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(payload[pos:]) < 4 {
			return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated branch entry %d", i))
		}
		keyLen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if len(payload[pos:]) < keyLen+8 {
			return nil, dberrors.NewIOError(fmt.Errorf("btree: truncated branch entry %d body", i))
		}
		minKey := make([]byte, keyLen)
		copy(minKey, payload[pos:pos+keyLen])
		pos += keyLen
		child := int64(binary.LittleEndian.Uint64(payload[pos : pos+8]))
		pos += 8
		entries = append(entries, branchEntry{minKey: minKey, child: child})
	}
	return entries, nil
}
