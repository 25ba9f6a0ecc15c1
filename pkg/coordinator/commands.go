package coordinator

import (
	"cubdb/internal/config"
	"cubdb/pkg/batch"
	"cubdb/pkg/btree"
	"cubdb/pkg/store"
)

// readCmd dispatches work against the coordinator's current snapshot
// without blocking the mailbox; work must not mutate tree.
type readCmd struct {
	work func(tree *btree.Tree)
}

type checkOutReaderCmd struct {
	path string
}

type putCmd struct {
	key, value []byte
	reply      chan<- error
}

type deleteCmd struct {
	key   []byte
	reply chan<- error
}

type gauResult struct {
	value any
	err   error
}

// getAndUpdateMultiCmd runs fn synchronously on the coordinator's own
// goroutine: fn sees a snapshot read from the current tree and returns
// the batch of mutations to apply atomically under one commit.
type getAndUpdateMultiCmd struct {
	keys  [][]byte
	fn    func(map[string][]byte) (any, *batch.Slice, error)
	reply chan<- gauResult
}

type compactRequestCmd struct {
	reply chan<- error
}

type compactionCompletedCmd struct {
	compacted *btree.Tree
	target    *store.Store
	err       error
}

type catchUpCompletedCmd struct {
	result *btree.Tree
	target *btree.Tree
	err    error
}

type subscribeCmd struct {
	ch chan<- Event
}

type setAutoCompactCmd struct {
	cfg   config.AutoCompactConfig
	reply chan<- error
}

type statsResult struct {
	size       uint64
	dirtFactor float64
}

type statsCmd struct {
	reply chan<- statsResult
}
