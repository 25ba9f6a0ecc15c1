// Package db is the embedding-facing facade over the coordinator actor:
// the handful of exported functions an application actually calls to
// open a database and read or write through it. Everything about actors,
// snapshots, and background compaction lives behind this surface.
package db

import (
	"context"
	"log/slog"
	"time"

	"cubdb/internal/config"
	"cubdb/pkg/batch"
	"cubdb/pkg/coordinator"
	"cubdb/pkg/metrics"
	"cubdb/pkg/reader"
	"cubdb/pkg/types"
)

// DB is an open handle to a database directory.
type DB struct {
	c      *coordinator.Coordinator
	cancel context.CancelFunc
}

// Options configures Open. A zero value uses config.Default(),
// bytes.Compare key order, slog.Default(), and a no-op metrics
// collector.
type Options struct {
	Config     config.Config
	Comparator types.Comparator
	Logger     *slog.Logger
	Metrics    metrics.Collector
}

// Open starts a database rooted at dataDir, recovering from the latest
// committed header if the directory already contains one. ctx governs the
// coordinator's lifetime: canceling it (e.g. from signal.NotifyContext)
// stops the actor loop and background workers the same way Close does.
// Passing context.Background() is fine for callers with no such signal.
func Open(ctx context.Context, dataDir string, opts Options) (*DB, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg = config.Default()
	}
	cfg.DataDir = dataDir

	runCtx, cancel := context.WithCancel(ctx)
	c, err := coordinator.Open(runCtx, dataDir, cfg, opts.Comparator, opts.Logger, opts.Metrics)
	if err != nil {
		cancel()
		return nil, err
	}
	return &DB{c: c, cancel: cancel}, nil
}

// Close stops the coordinator loop and background workers. It does not
// close the file descriptors of the underlying stores.
func (d *DB) Close() {
	d.c.Close()
	d.cancel()
}

// Get returns key's value, or def if key is absent or deleted.
func (d *DB) Get(key, def []byte) ([]byte, error) {
	return d.c.Get(key, def)
}

// Fetch returns key's value, or dberrors.ErrNotFound if it is absent.
func (d *DB) Fetch(key []byte) ([]byte, error) {
	return d.c.Fetch(key)
}

// HasKey reports whether key is present and not tombstoned.
func (d *DB) HasKey(key []byte) (bool, error) {
	return d.c.HasKey(key)
}

// Put writes key/value as a single committed transaction.
func (d *DB) Put(key, value []byte) error {
	return d.c.Put(key, value)
}

// Delete removes key, if present, as a single committed transaction.
func (d *DB) Delete(key []byte) error {
	return d.c.Delete(key)
}

// Update reads key's current value (or initial if absent), applies fn,
// and commits the result, all as one atomic step against the writer.
func (d *DB) Update(key, initial []byte, fn func(current []byte) ([]byte, error)) error {
	return d.c.Update(key, initial, fn)
}

// GetAndUpdate atomically reads key (found reports whether it existed)
// and applies fn, committing the returned value and yielding fn's result
// to the caller.
func (d *DB) GetAndUpdate(key []byte, fn func(current []byte, found bool) (newValue []byte, result any, err error)) (any, error) {
	return d.c.GetAndUpdate(key, fn)
}

// GetAndUpdateMulti atomically reads a snapshot of keys and applies the
// batch fn returns as one commit. A zero timeout waits indefinitely.
func (d *DB) GetAndUpdateMulti(keys [][]byte, fn func(map[string][]byte) (any, *batch.Slice, error), timeout time.Duration) (any, error) {
	return d.c.GetAndUpdateMulti(keys, fn, timeout)
}

// Select runs a read-only range scan with an optional pipeline and
// reduction against a consistent snapshot. A zero timeout waits
// indefinitely; the scan itself is unaffected by concurrent writes.
func (d *DB) Select(opts reader.SelectOptions, timeout time.Duration) (any, error) {
	return d.c.Select(opts, timeout)
}

// Size returns the current tree's live-entry count.
func (d *DB) Size() uint64 {
	return d.c.Size()
}

// DirtFactor returns dirt / (dirt + size + 1), the heuristic auto-compact
// evaluates against min_dirt_factor.
func (d *DB) DirtFactor() float64 {
	return d.c.DirtFactor()
}

// Compact requests a background compaction, returning
// dberrors.ErrPendingCompaction if one is already running.
func (d *DB) Compact() error {
	return d.c.Compact()
}

// SetAutoCompact replaces the auto-compaction policy evaluated after
// every mutation.
func (d *DB) SetAutoCompact(cfg config.AutoCompactConfig) error {
	return d.c.SetAutoCompact(cfg)
}

// Subscribe registers ch to receive lifecycle events (compaction start
// and completion, catch-up completion, cleanup runs). Sends are
// non-blocking.
func (d *DB) Subscribe(ch chan<- coordinator.Event) {
	d.c.Subscribe(ch)
}
