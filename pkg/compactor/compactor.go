// Package compactor streams a coordinator-chosen Btree snapshot into a
// fresh Store in sorted order, producing a dense, zero-dirt Btree. It owns
// only the orchestration (context, jitter, logging); the bulk-load
// algorithm itself lives in pkg/btree since it needs the node encoders.
package compactor

import (
	"context"
	"log/slog"

	"github.com/zhangyunhao116/fastrand"

	"cubdb/pkg/btree"
	"cubdb/pkg/dberrors"
	"cubdb/pkg/store"
)

// Run bulk-loads source's live entries into target and returns the
// resulting compacted Btree. Any I/O error aborts compaction; target is
// left for CleanUp to remove, and source is left untouched.
func Run(ctx context.Context, source *btree.Tree, target *store.Store, order int, log *slog.Logger) (*btree.Tree, error) {
	if log != nil {
		log.Info("compaction started", "source_size", source.Size(), "target", target.Path())
	}

	sizer := func(defaultSize int) int {
		jitter := int(fastrand.Uint32n(3)) - 1 // -1, 0, or +1
		size := defaultSize + jitter
		if size < 1 {
			size = 1
		}
		return size
	}

	compacted, err := btree.BulkLoad(target, order, source, sizer)
	if err != nil {
		if log != nil {
			log.Error("compaction failed", "error", err)
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, dberrors.NewIOError(ctx.Err())
	}

	if log != nil {
		log.Info("compaction completed", "compacted_size", compacted.Size(), "target", target.Path())
	}
	return compacted, nil
}
