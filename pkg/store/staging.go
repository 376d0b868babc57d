// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"sort"
	"sync"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
)

// Staging is the per-instance read-side view of not-yet-committed data:
// unsynced memtables plus references to uncommitted sorted files, newest
// epoch first, over a pinned committed snapshot.
//
// The write latch is taken by the event loop when applying sync and
// version updates and by the owning instance when ingesting; readers
// take the read latch. Neither is ever held across a blocking call.
type Staging struct {
	mu     sync.RWMutex
	table  keys.TableID
	pinned version.Pinned
	imms   []*memtable.Memtable
	files  []sstable.Info
}

// NewStaging creates a staging view over the pinned version.
func NewStaging(table keys.TableID, pinned version.Pinned) *Staging {
	return &Staging{table: table, pinned: pinned}
}

// Table returns the table this view belongs to.
func (staging *Staging) Table() keys.TableID { return staging.table }

// AddImm prepends a freshly ingested memtable, so the writer observes
// its own writes immediately.
func (staging *Staging) AddImm(m *memtable.Memtable) {
	staging.mu.Lock()
	defer staging.mu.Unlock()
	staging.imms = append([]*memtable.Memtable{m}, staging.imms...)
}

// ApplySync drops the staged memtables at or below the sync epoch and
// adds the sync's uncommitted files, keeping only files that may hold
// this table's keys. Files staged by earlier syncs stay until a
// committed version covers them.
func (staging *Staging) ApplySync(epoch epochs.Epoch, files []sstable.Info) {
	staging.mu.Lock()
	defer staging.mu.Unlock()

	// always build fresh slices, snapshots may still read the old ones
	var kept []*memtable.Memtable
	for _, m := range staging.imms {
		if m.Epoch() > epoch {
			kept = append(kept, m)
		}
	}
	staging.imms = kept

	replaced := make(map[uint64]bool, len(files))
	for _, file := range files {
		replaced[uint64(file.ID)] = true
	}
	var keptFiles []sstable.Info
	for _, file := range staging.files {
		if !replaced[uint64(file.ID)] {
			keptFiles = append(keptFiles, file)
		}
	}
	for _, file := range files {
		if fileOverlapsTable(file, staging.table) {
			keptFiles = append(keptFiles, file)
		}
	}
	sort.SliceStable(keptFiles, func(i, k int) bool {
		return keptFiles[i].MaxEpoch > keptFiles[k].MaxEpoch
	})
	staging.files = keptFiles
}

// ApplyCommitted swaps in a newer committed snapshot and drops staged
// state the snapshot now covers.
func (staging *Staging) ApplyCommitted(pinned version.Pinned) {
	staging.mu.Lock()
	defer staging.mu.Unlock()

	staging.pinned = pinned
	committed := pinned.MaxCommittedEpoch()

	var kept []*memtable.Memtable
	for _, m := range staging.imms {
		if m.Epoch() > committed {
			kept = append(kept, m)
		}
	}
	staging.imms = kept

	var keptFiles []sstable.Info
	for _, file := range staging.files {
		if file.MaxEpoch > committed {
			keptFiles = append(keptFiles, file)
		}
	}
	staging.files = keptFiles
}

// Clear drops all staged state, keeping the committed snapshot.
func (staging *Staging) Clear() {
	staging.mu.Lock()
	defer staging.mu.Unlock()
	staging.imms = nil
	staging.files = nil
}

// snapshot returns a consistent view for one read.
func (staging *Staging) snapshot() ([]*memtable.Memtable, []sstable.Info, version.Pinned) {
	staging.mu.RLock()
	defer staging.mu.RUnlock()
	return staging.imms, staging.files, staging.pinned
}

// ImmCount returns the number of staged memtables.
func (staging *Staging) ImmCount() int {
	staging.mu.RLock()
	defer staging.mu.RUnlock()
	return len(staging.imms)
}

// FileCount returns the number of staged uncommitted files.
func (staging *Staging) FileCount() int {
	staging.mu.RLock()
	defer staging.mu.RUnlock()
	return len(staging.files)
}

// fileOverlapsTable reports whether the file's key range may contain
// keys of the table.
func fileOverlapsTable(file sstable.Info, table keys.TableID) bool {
	return keys.Table(file.Range.Smallest) <= table && table <= keys.Table(file.Range.Largest)
}
