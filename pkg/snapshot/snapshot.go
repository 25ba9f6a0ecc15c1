package snapshot

import "cubdb/pkg/types"

// Snapshot pins an immutable tree value by its root offset. Close reports
// the snapshot's file back to the coordinator so CleanUp can reclaim files
// no longer referenced once every snapshot over them has closed.
type Snapshot interface {
	// Sequence returns the root offset this snapshot is pinned at, the
	// adaptation of the teacher's WAL sequence number to an offset-keyed
	// persistent tree.
	Sequence() types.Offset
	// Close releases the snapshot's hold on its underlying file.
	Close() error
}
