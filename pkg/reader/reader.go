// Package reader executes a single read request against a frozen Btree
// snapshot. The coordinator goroutine that dispatched it checks the
// snapshot's file back in once Execute returns. Reads never
// mutate anything and never block each other or the writer.
package reader

import (
	"log/slog"

	"github.com/google/uuid"

	"cubdb/pkg/btree"
	"cubdb/pkg/dberrors"
)

// Stage is one step of a select pipeline, applied to the cursor's lazy
// stream in the order the caller supplied. The set is closed rather than
// a bag of arbitrary callbacks so pipeline construction stays declarative
// and loggable.
type Stage struct {
	Filter    func(key, value []byte) (bool, error)
	Map       func(key, value []byte) ([]byte, []byte, error)
	Take      int
	Drop      int
	TakeWhile func(key, value []byte) (bool, error)
	DropWhile func(key, value []byte) (bool, error)
	kind      stageKind
}

type stageKind int

const (
	stageFilter stageKind = iota
	stageMap
	stageTake
	stageDrop
	stageTakeWhile
	stageDropWhile
)

func FilterStage(pred func(key, value []byte) (bool, error)) Stage {
	return Stage{kind: stageFilter, Filter: pred}
}

func MapStage(fn func(key, value []byte) ([]byte, []byte, error)) Stage {
	return Stage{kind: stageMap, Map: fn}
}

func TakeStage(n int) Stage { return Stage{kind: stageTake, Take: n} }
func DropStage(n int) Stage { return Stage{kind: stageDrop, Drop: n} }

func TakeWhileStage(pred func(key, value []byte) (bool, error)) Stage {
	return Stage{kind: stageTakeWhile, TakeWhile: pred}
}

func DropWhileStage(pred func(key, value []byte) (bool, error)) Stage {
	return Stage{kind: stageDropWhile, DropWhile: pred}
}

// Entry is one (key, value) pair flowing through a select pipeline.
type Entry struct {
	Key   []byte
	Value []byte
}

// Reduction collapses a pipeline's output stream into a single result.
// The zero value materializes the stream into a slice of Entry.
type Reduction struct {
	Fold       func(acc any, e Entry) (any, error)
	Init       any
	HasInit    bool
	NoInitFold func(acc any, e Entry) (any, error)
}

// SelectOptions describes one select(min,max,reverse,pipeline,reduction)
// call.
type SelectOptions struct {
	MinKey, MaxKey             []byte
	MinExclusive, MaxExclusive bool
	Reverse                    bool
	Pipeline                   []Stage
	Reduction                  Reduction
}

// Execute runs a select against snapshot and returns either a []Entry (no
// reduction), or whatever the reduction produced. Errors raised from a
// stage or fold function are reported as *dberrors.UserError and the
// partial result is discarded.
func Execute(tree *btree.Tree, opts SelectOptions, log *slog.Logger) (result any, err error) {
	opID := uuid.New()
	if log != nil {
		log.Debug("reader: select started", "op_id", opID)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &dberrors.UserError{Value: r}
		}
		if log != nil {
			log.Debug("reader: select finished", "op_id", opID, "error", err)
		}
	}()

	cursor, cErr := tree.Range(opts.MinKey, opts.MaxKey, opts.MinExclusive, opts.MaxExclusive, opts.Reverse)
	if cErr != nil {
		return nil, cErr
	}
	defer cursor.Close()

	stream := newPipeline(cursor, opts.Pipeline)

	switch {
	case opts.Reduction.Fold != nil:
		acc := opts.Reduction.Init
		for {
			e, ok, nextErr := stream.next()
			if nextErr != nil {
				return nil, &dberrors.UserError{Value: nextErr}
			}
			if !ok {
				break
			}
			acc, nextErr = opts.Reduction.Fold(acc, e)
			if nextErr != nil {
				return nil, &dberrors.UserError{Value: nextErr}
			}
		}
		return acc, nil

	case opts.Reduction.NoInitFold != nil:
		var acc any
		started := false
		for {
			e, ok, nextErr := stream.next()
			if nextErr != nil {
				return nil, &dberrors.UserError{Value: nextErr}
			}
			if !ok {
				break
			}
			if !started {
				acc = Entry{Key: e.Key, Value: e.Value}
				started = true
				continue
			}
			acc, nextErr = opts.Reduction.NoInitFold(acc, e)
			if nextErr != nil {
				return nil, &dberrors.UserError{Value: nextErr}
			}
		}
		if !started {
			return nil, &dberrors.UserError{Value: "fold over empty selection with no initial value"}
		}
		return acc, nil

	default:
		var out []Entry
		for {
			e, ok, nextErr := stream.next()
			if nextErr != nil {
				return nil, &dberrors.UserError{Value: nextErr}
			}
			if !ok {
				break
			}
			out = append(out, e)
		}
		return out, nil
	}
}
