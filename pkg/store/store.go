// Package store is the append-only block device the btree is built on: one
// file per database directory, written by a single appender and readable
// at arbitrary offsets by any number of concurrent goroutines. Framing and
// the write-then-sync sequence are adapted from the teacher's
// pkg/wal, generalized from one WAL entry shape to the five node shapes a
// btree file can hold.
package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"cubdb/pkg/dberrors"
)

// Tag identifies the shape of a node's payload.
type Tag byte

const (
	TagValue Tag = iota + 1
	TagLeaf
	TagBranch
	TagDeleted
	TagHeader
)

func (t Tag) String() string {
	switch t {
	case TagValue:
		return "value"
	case TagLeaf:
		return "leaf"
	case TagBranch:
		return "branch"
	case TagDeleted:
		return "deleted"
	case TagHeader:
		return "header"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// HeaderPayloadLen is the fixed size of a Header node's payload:
// root_offset(8) + size(8) + dirt(8) + magic(4).
const HeaderPayloadLen = 28

// frameOverhead is tag(1) + length(4) + crc32(4), the bytes surrounding
// every node's payload on disk.
const frameOverhead = 9

// HeaderFrameLen is the fixed total size of a committed header frame,
// which LatestHeader uses to try every candidate offset on recovery.
const HeaderFrameLen = frameOverhead + HeaderPayloadLen

// Magic identifies a well-formed Header payload, guarding against reading a
// stray frame of the right length and tag but garbage content.
const Magic uint32 = 0xC0B7DB17

// Store is an append-only byte log with random-access reads.
type Store struct {
	path string
	file *os.File

	mu     sync.Mutex // serializes Append; reads never take it
	length int64
}

// Open opens path for read/write, creating it if absent, and reports its
// current length.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberrors.NewIOError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberrors.NewIOError(err)
	}
	return &Store{path: path, file: f, length: info.Size()}, nil
}

// Path returns the file path backing this store.
func (s *Store) Path() string { return s.path }

// Length returns the current end-of-file offset.
func (s *Store) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Append writes one framed node and returns the offset where its frame
// begins. The write is not durable until Sync is called.
func (s *Store) Append(tag Tag, payload []byte) (int64, error) {
	frame := make([]byte, frameOverhead+len(payload))
	frame[0] = byte(tag)
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)
	crc := crc32.ChecksumIEEE(frame[:5+len(payload)])
	binary.LittleEndian.PutUint32(frame[5+len(payload):], crc)

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.length
	if _, err := s.file.WriteAt(frame, offset); err != nil {
		return 0, dberrors.NewIOError(err)
	}
	s.length = offset + int64(len(frame))
	return offset, nil
}

// AppendHeader writes a fixed-size Header frame referencing root, with the
// given size/dirt counters, and returns its offset.
func (s *Store) AppendHeader(rootOffset int64, size, dirt uint64) (int64, error) {
	payload := make([]byte, HeaderPayloadLen)
	binary.LittleEndian.PutUint64(payload[0:8], uint64(rootOffset))
	binary.LittleEndian.PutUint64(payload[8:16], size)
	binary.LittleEndian.PutUint64(payload[16:24], dirt)
	binary.LittleEndian.PutUint32(payload[24:28], Magic)
	return s.Append(TagHeader, payload)
}

// ReadAt reads the node frame starting at offset and returns its tag and
// payload, after validating the checksum.
func (s *Store) ReadAt(offset int64) (Tag, []byte, error) {
	prefix := make([]byte, 5)
	if _, err := s.file.ReadAt(prefix, offset); err != nil {
		return 0, nil, dberrors.NewIOError(err)
	}
	tag := Tag(prefix[0])
	length := binary.LittleEndian.Uint32(prefix[1:5])

	rest := make([]byte, int(length)+4)
	if _, err := s.file.ReadAt(rest, offset+5); err != nil {
		return 0, nil, dberrors.NewIOError(err)
	}
	payload := rest[:length]
	wantCRC := binary.LittleEndian.Uint32(rest[length:])

	gotCRC := crc32.ChecksumIEEE(append(append([]byte{}, prefix...), payload...))
	if gotCRC != wantCRC {
		return 0, nil, dberrors.NewIOError(fmt.Errorf("store: checksum mismatch at offset %d", offset))
	}
	return tag, payload, nil
}

// Sync flushes the file to stable storage.
func (s *Store) Sync() error {
	if err := s.file.Sync(); err != nil {
		return dberrors.NewIOError(err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (s *Store) Close() error {
	if err := s.file.Close(); err != nil {
		return dberrors.NewIOError(err)
	}
	return nil
}

// Rename moves the store's backing file to newPath, syncing first so the
// rename only ever observes a durable file. Used to publish a compaction
// target under its final ".cub" name once it has been promoted, per the
// filesystem layout's "X.compact -> X.cub before promotion" contract.
func (s *Store) Rename(newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Sync(); err != nil {
		return dberrors.NewIOError(err)
	}
	if err := os.Rename(s.path, newPath); err != nil {
		return dberrors.NewIOError(err)
	}
	s.path = newPath
	return nil
}

// DecodedHeader is the parsed form of a Header node's payload.
type DecodedHeader struct {
	RootOffset int64
	Size       uint64
	Dirt       uint64
}

// LatestHeader scans backward from the end of the file for the
// newest byte offset holding a structurally valid, checksummed header
// frame, trying every candidate offset rather than trusting a length
// field that might itself be corrupt. found is false for a brand new,
// empty file.
func (s *Store) LatestHeader() (offset int64, header DecodedHeader, found bool, err error) {
	length := s.Length()
	frame := make([]byte, HeaderFrameLen)
	for candidate := length - HeaderFrameLen; candidate >= 0; candidate-- {
		// A fixed-size read, never trusting the embedded length prefix: a
		// header frame's size is known up front, so candidate bytes that
		// merely happen to start with tag byte 5 can't make us allocate
		// wildly based on garbage length data.
		if _, readErr := s.file.ReadAt(frame, candidate); readErr != nil {
			continue
		}
		if Tag(frame[0]) != TagHeader {
			continue
		}
		if binary.LittleEndian.Uint32(frame[1:5]) != HeaderPayloadLen {
			continue
		}
		payload := frame[5 : 5+HeaderPayloadLen]
		wantCRC := binary.LittleEndian.Uint32(frame[5+HeaderPayloadLen:])
		if crc32.ChecksumIEEE(frame[:5+HeaderPayloadLen]) != wantCRC {
			continue
		}
		magic := binary.LittleEndian.Uint32(payload[24:28])
		if magic != Magic {
			continue
		}
		h := DecodedHeader{
			RootOffset: int64(binary.LittleEndian.Uint64(payload[0:8])),
			Size:       binary.LittleEndian.Uint64(payload[8:16]),
			Dirt:       binary.LittleEndian.Uint64(payload[16:24]),
		}
		return candidate, h, true, nil
	}
	return 0, DecodedHeader{}, false, nil
}
