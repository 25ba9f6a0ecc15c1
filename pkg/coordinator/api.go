package coordinator

import (
	"time"

	"cubdb/internal/config"
	"cubdb/pkg/batch"
	"cubdb/pkg/btree"
	"cubdb/pkg/dberrors"
	"cubdb/pkg/reader"
)

// Get returns key's value, or def if key is absent or tombstoned.
func (c *Coordinator) Get(key, def []byte) ([]byte, error) {
	value, found, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return def, nil
	}
	return value, nil
}

// Fetch returns key's value, or dberrors.ErrNotFound if absent.
func (c *Coordinator) Fetch(key []byte) ([]byte, error) {
	value, found, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberrors.ErrNotFound
	}
	return value, nil
}

// HasKey reports whether key is present and not tombstoned.
func (c *Coordinator) HasKey(key []byte) (bool, error) {
	_, found, err := c.lookup(key)
	return found, err
}

func (c *Coordinator) lookup(key []byte) (value []byte, found bool, err error) {
	type out struct {
		value []byte
		found bool
		err   error
	}
	done := make(chan out, 1)
	c.cmds <- readCmd{work: func(tree *btree.Tree) {
		v, f, e := tree.Lookup(key)
		done <- out{value: v, found: f, err: e}
	}}
	r := <-done
	return r.value, r.found, r.err
}

// Select runs a read-only range scan with an optional pipeline and
// reduction against the current snapshot.
func (c *Coordinator) Select(opts reader.SelectOptions, timeout time.Duration) (any, error) {
	type out struct {
		result any
		err    error
	}
	done := make(chan out, 1)
	c.cmds <- readCmd{work: func(tree *btree.Tree) {
		result, err := reader.Execute(tree, opts, c.log)
		done <- out{result: result, err: err}
	}}

	if timeout <= 0 {
		r := <-done
		return r.result, r.err
	}
	select {
	case r := <-done:
		return r.result, r.err
	case <-time.After(timeout):
		return nil, dberrors.ErrTimeout
	}
}

// Put writes key/value, committing immediately.
func (c *Coordinator) Put(key, value []byte) error {
	reply := make(chan error, 1)
	c.cmds <- putCmd{key: key, value: value, reply: reply}
	return <-reply
}

// Delete removes key if present, committing immediately. dirt increases
// regardless of whether key existed.
func (c *Coordinator) Delete(key []byte) error {
	reply := make(chan error, 1)
	c.cmds <- deleteCmd{key: key, reply: reply}
	return <-reply
}

// GetAndUpdateMulti runs fn synchronously on the coordinator's goroutine
// against a snapshot of keys, applying the batch fn returns as one
// commit. A panic or error from fn aborts with no partial mutation.
func (c *Coordinator) GetAndUpdateMulti(keys [][]byte, fn func(map[string][]byte) (any, *batch.Slice, error), timeout time.Duration) (result any, err error) {
	reply := make(chan gauResult, 1)
	wrapped := func(snapshot map[string][]byte) (res any, b *batch.Slice, ferr error) {
		defer func() {
			if r := recover(); r != nil {
				ferr = &dberrors.UserError{Value: r}
			}
		}()
		return fn(snapshot)
	}
	c.cmds <- getAndUpdateMultiCmd{keys: keys, fn: wrapped, reply: reply}

	if timeout <= 0 {
		r := <-reply
		return r.value, r.err
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-time.After(timeout):
		return nil, dberrors.ErrTimeout
	}
}

// GetAndUpdate reads key's current value (absent keys pass found=false)
// and applies fn's returned value as a single commit, returning fn's
// second return value to the caller.
func (c *Coordinator) GetAndUpdate(key []byte, fn func(current []byte, found bool) (newValue []byte, result any, err error)) (any, error) {
	return c.GetAndUpdateMulti([][]byte{key}, func(snapshot map[string][]byte) (any, *batch.Slice, error) {
		current, found := snapshot[string(key)]
		newValue, result, err := fn(current, found)
		if err != nil {
			return nil, nil, err
		}
		b := batch.New()
		b.Put(key, newValue)
		return result, b, nil
	}, 0)
}

// Update reads key's current value (or initial, if absent), applies fn,
// and writes the result back as a single commit.
func (c *Coordinator) Update(key, initial []byte, fn func(current []byte) ([]byte, error)) error {
	_, err := c.GetAndUpdateMulti([][]byte{key}, func(snapshot map[string][]byte) (any, *batch.Slice, error) {
		current, ok := snapshot[string(key)]
		if !ok {
			current = initial
		}
		newValue, err := fn(current)
		if err != nil {
			return nil, nil, err
		}
		b := batch.New()
		b.Put(key, newValue)
		return nil, b, nil
	}, 0)
	return err
}

// Size returns the current tree's live-entry count.
func (c *Coordinator) Size() uint64 {
	reply := make(chan statsResult, 1)
	c.cmds <- statsCmd{reply: reply}
	return (<-reply).size
}

// DirtFactor returns the current tree's dirt factor.
func (c *Coordinator) DirtFactor() float64 {
	reply := make(chan statsResult, 1)
	c.cmds <- statsCmd{reply: reply}
	return (<-reply).dirtFactor
}

// Compact requests a background compaction. It returns
// dberrors.ErrPendingCompaction if one is already running.
func (c *Coordinator) Compact() error {
	reply := make(chan error, 1)
	c.cmds <- compactRequestCmd{reply: reply}
	return <-reply
}

// SetAutoCompact replaces the auto-compaction policy evaluated after
// every mutation.
func (c *Coordinator) SetAutoCompact(cfg config.AutoCompactConfig) error {
	if cfg.MinWrites < 0 {
		return &dberrors.InvalidConfigError{Reason: "min_writes_since_compaction must be >= 0"}
	}
	if cfg.MinDirtFactor < 0 || cfg.MinDirtFactor > 1 {
		return &dberrors.InvalidConfigError{Reason: "min_dirt_factor must be within [0, 1]"}
	}
	reply := make(chan error, 1)
	c.cmds <- setAutoCompactCmd{cfg: cfg, reply: reply}
	return <-reply
}

// Subscribe registers ch to receive lifecycle events. Sends are
// non-blocking: a slow or full subscriber simply misses events rather
// than stalling the coordinator.
func (c *Coordinator) Subscribe(ch chan<- Event) {
	c.cmds <- subscribeCmd{ch: ch}
}
