// Package cleanup deletes obsolete database and compaction files once the
// coordinator is sure no reader still holds them. It is a serial worker
// built on the same generic channel-actor the teacher uses for its WAL and
// flusher background goroutines, so jobs are processed one at a time and
// never race each other over the filesystem.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zhangyunhao116/skipset"

	"cubdb/pkg/dberrors"
	"cubdb/pkg/listener"
)

const (
	dbExt      = ".cub"
	compactExt = ".compact"
)

// JobKind selects which of CleanUp's two deletion passes to run.
type JobKind int

const (
	// OldCompactionFiles removes every .compact file except KeepPath,
	// run when a new compaction starts.
	OldCompactionFiles JobKind = iota
	// Full removes every .cub and .compact file except KeepPath, run
	// once a compaction has been promoted and caught up.
	Full
)

// Job is one cleanup pass to run.
type Job struct {
	Kind     JobKind
	DataDir  string
	KeepPath string
	Done     chan<- error
}

// Worker owns the single goroutine that performs deletions.
type Worker struct {
	listener *listener.Listener[Job]
	jobs     chan Job
	pending  *skipset.StringSet
	log      *slog.Logger
}

// New creates a Worker; call Start to begin processing jobs and Stop to
// drain it.
func New(log *slog.Logger) *Worker {
	jobs := make(chan Job, 8)
	w := &Worker{
		jobs:    jobs,
		pending: skipset.NewString(),
		log:     log,
	}
	w.listener = listener.New(jobs, w.handle)
	return w
}

func (w *Worker) Start(ctx context.Context) { w.listener.Start(ctx) }
func (w *Worker) Stop()                     { w.listener.Stop() }

// Submit enqueues a job. It never blocks the coordinator's own mailbox
// loop for longer than the channel send.
func (w *Worker) Submit(job Job) {
	w.jobs <- job
}

// Pending reports file paths this worker still owes a delete to, useful
// for diagnostics when a delete failed and will be retried next round.
func (w *Worker) Pending() []string {
	var out []string
	w.pending.Range(func(path string) bool {
		out = append(out, path)
		return true
	})
	return out
}

func (w *Worker) handle(job Job) error {
	entries, err := os.ReadDir(job.DataDir)
	if err != nil {
		w.reply(job, dberrors.NewIOError(err))
		return nil
	}

	var victims []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		path := filepath.Join(job.DataDir, entry.Name())
		if path == job.KeepPath {
			continue
		}
		switch job.Kind {
		case OldCompactionFiles:
			if ext == compactExt {
				victims = append(victims, path)
			}
		case Full:
			if ext == dbExt || ext == compactExt {
				victims = append(victims, path)
			}
		}
	}

	for _, path := range victims {
		w.pending.Add(path)
	}

	var firstErr error
	for _, path := range victims {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			if w.log != nil {
				w.log.Warn("cleanup: failed to remove file", "path", path, "error", rmErr)
			}
			if firstErr == nil {
				firstErr = dberrors.NewIOError(rmErr)
			}
			continue
		}
		w.pending.Remove(path)
		if w.log != nil {
			w.log.Debug("cleanup: removed file", "path", path)
		}
	}

	w.reply(job, firstErr)
	return nil
}

func (w *Worker) reply(job Job, err error) {
	if job.Done != nil {
		job.Done <- err
	}
}
