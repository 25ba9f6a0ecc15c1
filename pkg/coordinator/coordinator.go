// Package coordinator is the single-writer authority over a database
// directory: it serializes mutations, dispatches Readers against frozen
// snapshots without blocking its own mailbox, and orchestrates background
// compaction, catch-up, and cleanup. Modeled as an actor — the same
// goroutine-plus-typed-channel shape the teacher uses for its WAL and
// flusher workers — generalized from one channel of WAL entries to a
// mailbox of a dozen distinct command shapes.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"cubdb/internal/config"
	"cubdb/pkg/btree"
	"cubdb/pkg/catchup"
	"cubdb/pkg/cleanup"
	"cubdb/pkg/compactor"
	"cubdb/pkg/dberrors"
	"cubdb/pkg/fileseq"
	"cubdb/pkg/metrics"
	"cubdb/pkg/store"
	"cubdb/pkg/types"
)

type compactionPhase int

const (
	phaseIdle compactionPhase = iota
	phaseCompacting
	phaseCatchingUp
)

// Coordinator is the single-writer state machine described in the package
// doc. All fields below this point are only ever touched by the run
// goroutine; everything else talks to it through cmds.
type Coordinator struct {
	dataDir string
	cmp     types.Comparator
	order   int
	seq     *fileseq.Seq

	log       *slog.Logger
	collector metrics.Collector
	cleanup   *cleanup.Worker

	cmds chan any

	current      *btree.Tree
	currentStore *store.Store

	phase              compactionPhase
	compactionTarget   *store.Store
	compactionSnapshot *btree.Tree // the snapshot the in-flight compactor read
	compactionCubPath  string      // where compactionTarget is renamed to once promoted
	autoCompact        config.AutoCompactConfig
	cleanupPending     bool

	busyFiles *skipmap.FuncMap[string, *atomic.Int64]

	subsMu sync.Mutex
	subs   []chan<- Event

	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// Open opens (or creates) a database at dataDir and starts its
// coordinator actor.
func Open(ctx context.Context, dataDir string, cfg config.Config, cmp types.Comparator, log *slog.Logger, collector metrics.Collector) (*Coordinator, error) {
	if cmp == nil {
		cmp = bytes.Compare
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}

	path, seq, err := latestDBFile(dataDir)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(s, cfg.Btree.Order, cmp)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cw := cleanup.New(log)
	cw.Start(runCtx)

	c := &Coordinator{
		dataDir:      dataDir,
		cmp:          cmp,
		order:        cfg.Btree.Order,
		seq:          fileseq.New(seq),
		log:          log,
		collector:    collector,
		cleanup:      cw,
		cmds:         make(chan any, 64),
		current:      tree,
		currentStore: s,
		autoCompact:  cfg.AutoCompact,
		busyFiles:    skipmap.NewFunc[string, *atomic.Int64](func(a, b string) bool { return a < b }),
		ctx:          runCtx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Close stops the coordinator's mailbox loop and background workers.
func (c *Coordinator) Close() {
	c.cancel()
	<-c.stopped
	c.cleanup.Stop()
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		select {
		case msg := <-c.cmds:
			c.handle(msg)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case readCmd:
		c.handleRead(m)
	case putCmd:
		c.handlePut(m)
	case deleteCmd:
		c.handleDelete(m)
	case getAndUpdateMultiCmd:
		c.handleGetAndUpdateMulti(m)
	case compactRequestCmd:
		c.handleCompactRequest(m)
	case compactionCompletedCmd:
		c.handleCompactionCompleted(m)
	case catchUpCompletedCmd:
		c.handleCatchUpCompleted(m)
	case checkOutReaderCmd:
		c.handleCheckOut(m)
	case subscribeCmd:
		c.subsMu.Lock()
		c.subs = append(c.subs, m.ch)
		c.subsMu.Unlock()
	case setAutoCompactCmd:
		c.autoCompact = m.cfg
		m.reply <- nil
	case statsCmd:
		m.reply <- statsResult{size: c.current.Size(), dirtFactor: c.current.DirtFactor()}
	default:
		panic(fmt.Sprintf("coordinator: unknown command %T", msg))
	}
}

func (c *Coordinator) publish(ev Event) {
	c.collector.IncCounter("cubdb_lifecycle_transitions_total", map[string]string{"kind": ev.Kind.String()}, 1)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Coordinator) currentPath() string { return c.currentStore.Path() }

func (c *Coordinator) incBusy(path string) {
	counter, _ := c.busyFiles.LoadOrStore(path, &atomic.Int64{})
	counter.Add(1)
}

func (c *Coordinator) decBusy(path string) int {
	for {
		counter, ok := c.busyFiles.Load(path)
		if !ok {
			return 0
		}
		count := counter.Load()
		if count <= 1 {
			if counter.CompareAndSwap(count, 0) {
				c.busyFiles.Delete(path)
				return 0
			}
			continue
		}
		if counter.CompareAndSwap(count, count-1) {
			return int(count - 1)
		}
	}
}

func (c *Coordinator) anyNonCurrentBusy() bool {
	current := c.currentPath()
	found := false
	c.busyFiles.Range(func(path string, counter *atomic.Int64) bool {
		if path != current && counter.Load() > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

func latestDBFile(dataDir string) (string, uint64, error) {
	best, cubSeq, err := newestFileWithExt(dataDir, ".cub")
	if err != nil {
		return "", 0, err
	}
	// A crashed or superseded compaction can leave an orphaned ".compact"
	// file with a higher sequence number than any ".cub" file. The next
	// sequence number must still land strictly above it, or a reused
	// basename would silently reopen that leftover file instead of
	// starting a fresh one (store.Open has no O_EXCL to catch the reuse).
	_, compactSeq, err := newestFileWithExt(dataDir, ".compact")
	if err != nil {
		return "", 0, err
	}
	seq := cubSeq
	if compactSeq > seq {
		seq = compactSeq
	}
	if best == "" {
		return filepath.Join(dataDir, fileseq.FormatHex(0)+".cub"), seq, nil
	}
	return best, seq, nil
}

func (c *Coordinator) handleRead(m readCmd) {
	path := c.currentPath()
	tree := c.current
	c.incBusy(path)
	go func() {
		m.work(tree)
		c.cmds <- checkOutReaderCmd{path: path}
	}()
}

func (c *Coordinator) handleCheckOut(m checkOutReaderCmd) {
	remaining := c.decBusy(m.path)
	if remaining > 0 {
		return
	}
	if c.cleanupPending && !c.anyNonCurrentBusy() {
		c.cleanupPending = false
		c.cleanup.Submit(cleanup.Job{
			Kind:     cleanup.Full,
			DataDir:  c.dataDir,
			KeepPath: c.currentPath(),
		})
		c.publish(Event{Kind: CleanupRan, Path: c.currentPath()})
	}
}

func (c *Coordinator) handlePut(m putCmd) {
	next, err := c.current.Insert(m.key, m.value, true)
	if err != nil {
		m.reply <- err
		return
	}
	c.current = next
	m.reply <- nil
	c.maybeAutoCompact()
}

func (c *Coordinator) handleDelete(m deleteCmd) {
	var next *btree.Tree
	var err error
	if c.phase != phaseIdle {
		next, err = c.current.MarkDeleted(m.key, true)
	} else {
		next, err = c.current.Delete(m.key, true)
	}
	if err != nil {
		m.reply <- err
		return
	}
	c.current = next
	m.reply <- nil
	c.maybeAutoCompact()
}

func (c *Coordinator) handleGetAndUpdateMulti(m getAndUpdateMultiCmd) {
	snapshot := make(map[string][]byte, len(m.keys))
	for _, k := range m.keys {
		if v, found, err := c.current.Lookup(k); err != nil {
			m.reply <- gauResult{err: err}
			return
		} else if found {
			snapshot[string(k)] = v
		}
	}

	result, batch, err := m.fn(snapshot)
	if err != nil {
		m.reply <- gauResult{err: &dberrors.UserError{Value: err}}
		return
	}

	tree := c.current
	for _, op := range batch.Ops() {
		if op.Delete {
			if c.phase != phaseIdle {
				tree, err = tree.MarkDeleted(op.Key, false)
			} else {
				tree, err = tree.Delete(op.Key, false)
			}
		} else {
			tree, err = tree.Insert(op.Key, op.Value, false)
		}
		if err != nil {
			m.reply <- gauResult{err: err}
			return
		}
	}
	if batch.Count() > 0 {
		if err := tree.Commit(); err != nil {
			m.reply <- gauResult{err: err}
			return
		}
		c.current = tree
	}
	m.reply <- gauResult{value: result}
	c.maybeAutoCompact()
}

func (c *Coordinator) maybeAutoCompact() {
	if !c.autoCompact.Enabled || c.phase != phaseIdle {
		return
	}
	if c.current.Dirt() < uint64(c.autoCompact.MinWrites) {
		return
	}
	if c.current.DirtFactor() < c.autoCompact.MinDirtFactor {
		return
	}
	c.startCompaction()
}

func (c *Coordinator) handleCompactRequest(m compactRequestCmd) {
	if c.phase != phaseIdle {
		m.reply <- dberrors.ErrPendingCompaction
		return
	}
	c.startCompaction()
	m.reply <- nil
}

func (c *Coordinator) startCompaction() {
	n := c.seq.Next()
	base := fileseq.FormatHex(n)
	path := filepath.Join(c.dataDir, base+".compact")
	target, err := store.Open(path)
	if err != nil {
		c.log.Error("compaction: failed to open target file", "error", err)
		return
	}

	// The new target already exists on disk by the time this runs, so the
	// sweep can't delete it out from under the compactor.
	c.cleanup.Submit(cleanup.Job{
		Kind:     cleanup.OldCompactionFiles,
		DataDir:  c.dataDir,
		KeepPath: path,
	})

	c.phase = phaseCompacting
	snapshot := c.current
	c.compactionSnapshot = snapshot
	c.compactionTarget = target
	c.compactionCubPath = filepath.Join(c.dataDir, base+".cub")
	c.publish(Event{Kind: CompactionStarted, Path: path})

	order := c.order
	log := c.log
	go func() {
		compacted, err := compactor.Run(c.ctx, snapshot, target, order, log)
		c.cmds <- compactionCompletedCmd{compacted: compacted, target: target, err: err}
	}()
}

func (c *Coordinator) handleCompactionCompleted(m compactionCompletedCmd) {
	if m.err != nil {
		c.log.Error("compaction failed", "error", m.err)
		c.phase = phaseIdle
		c.compactionTarget = nil
		c.compactionSnapshot = nil
		c.compactionCubPath = ""
		return
	}
	c.publish(Event{Kind: CompactionCompleted, Path: m.target.Path()})
	c.runCatchUp(m.compacted)
}

func (c *Coordinator) runCatchUp(compacted *btree.Tree) {
	c.phase = phaseCatchingUp
	latest := c.current
	original := c.compactionSnapshot
	log := c.log
	go func() {
		result, err := catchup.Run(c.ctx, compacted, latest, original, log)
		c.cmds <- catchUpCompletedCmd{result: result, target: latest, err: err}
	}()
}

func (c *Coordinator) handleCatchUpCompleted(m catchUpCompletedCmd) {
	if m.err != nil {
		c.log.Error("catch-up failed", "error", m.err)
		c.phase = phaseIdle
		c.compactionTarget = nil
		c.compactionSnapshot = nil
		c.compactionCubPath = ""
		return
	}
	c.publish(Event{Kind: CatchUpCompleted, Path: c.compactionTarget.Path()})

	if m.target.RootOffset() == c.current.RootOffset() {
		// Rename before promoting: a ".compact" file left under that name
		// would vanish from the next startup's newestFileWithExt(".cub")
		// scan, silently reverting to an empty database.
		if err := c.compactionTarget.Rename(c.compactionCubPath); err != nil {
			c.log.Error("compaction: failed to promote target to .cub", "error", err)
			c.phase = phaseIdle
			c.compactionTarget = nil
			c.compactionSnapshot = nil
			c.compactionCubPath = ""
			return
		}

		c.current = m.result
		c.currentStore = c.compactionTarget
		c.phase = phaseIdle
		c.compactionTarget = nil
		c.compactionSnapshot = nil
		c.compactionCubPath = ""

		if c.anyNonCurrentBusy() {
			c.cleanupPending = true
			return
		}
		c.cleanup.Submit(cleanup.Job{
			Kind:     cleanup.Full,
			DataDir:  c.dataDir,
			KeepPath: c.currentPath(),
		})
		c.publish(Event{Kind: CleanupRan, Path: c.currentPath()})
		return
	}

	// The live tree moved further while this round ran; chase it again.
	c.runCatchUp(m.result)
}
