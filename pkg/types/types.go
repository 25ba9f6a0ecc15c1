// Package types holds the handful of shared aliases used across the engine
// so packages don't need to import each other just to talk about a key.
package types

// Key is an opaque, immutable byte slice compared with a Comparator.
type Key = []byte

// Value is an opaque, immutable byte slice; the engine never looks inside it.
type Value = []byte

// Offset is a byte position in a Store's append-only file.
type Offset = int64

// Comparator imposes the total order keys are compared under. It must
// return <0, 0, >0 the way bytes.Compare does.
type Comparator func(a, b []byte) int
