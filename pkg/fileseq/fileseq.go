// Package fileseq allocates the monotonically increasing sequence number
// baked into every store file name (0000000000000001.cub,
// 0000000000000002.compact, ...) so the coordinator can pick a fresh name
// without rescanning the data directory. Adapted from the teacher's AtomicClock, which serialized WAL
// sequence numbers the same way.
package fileseq

import (
	"fmt"
	"sync/atomic"
)

// Seq is a lock-free monotonic counter guarding file-name uniqueness.
type Seq struct {
	atomic.Uint64
}

// New returns a Seq primed at init; the next call to Next returns init+1.
func New(init uint64) *Seq {
	var s Seq
	s.Store(init)
	return &s
}

// Val returns the current value without advancing it.
func (s *Seq) Val() uint64 { return s.Load() }

// Next atomically advances the sequence and returns the new value.
func (s *Seq) Next() uint64 { return s.Add(1) }

// Observe bumps the sequence up to at least v, used when recovering a
// sequence from the highest file number found on disk.
func (s *Seq) Observe(v uint64) {
	for {
		cur := s.Load()
		if v <= cur {
			return
		}
		if s.CompareAndSwap(cur, v) {
			return
		}
	}
}

// FormatHex renders n as the fixed-width hex suffix used in file names.
func FormatHex(n uint64) string {
	return fmt.Sprintf("%016x", n)
}
