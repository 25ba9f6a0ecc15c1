// Package batch stages the puts and deletes of a get_and_update_multi
// transaction body so the coordinator has one place to apply them — in
// order, as a single commit — rather than threading mutation calls through
// the caller-supplied function. The interface is kept from the teacher's
// pkg/batch, given a concrete slice-backed implementation here.
package batch

import "cubdb/pkg/types"

// WriteBatch groups multiple mutations to be applied atomically.
type WriteBatch interface {
	Put(key types.Key, value types.Value)
	Delete(key types.Key)
	Clear()
	Count() int
}

// Op is one staged mutation, recorded in call order.
type Op struct {
	Delete bool
	Key    types.Key
	Value  types.Value
}

// Slice is a WriteBatch backed by a plain slice, replayed by the
// coordinator in the order operations were staged — puts and deletes
// interleave exactly as the transaction function issued them.
type Slice struct {
	ops []Op
}

func New() *Slice {
	return &Slice{}
}

func (b *Slice) Put(key types.Key, value types.Value) {
	b.ops = append(b.ops, Op{Key: key, Value: value})
}

func (b *Slice) Delete(key types.Key) {
	b.ops = append(b.ops, Op{Delete: true, Key: key})
}

func (b *Slice) Clear() {
	b.ops = b.ops[:0]
}

func (b *Slice) Count() int {
	return len(b.ops)
}

// Ops returns the staged operations in the order they were recorded.
func (b *Slice) Ops() []Op {
	return b.ops
}
