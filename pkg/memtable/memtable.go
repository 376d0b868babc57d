// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memtable implements the immutable sorted batches that writers
// hand to the shared buffer.
package memtable

import (
	"bytes"
	"sort"
	"sync/atomic"

	"storj.io/lsmstore/pkg/buffer"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
)

// Entry is a single write. A nil Value with Tombstone set deletes the key.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// entryOverhead approximates the bookkeeping bytes per entry.
const entryOverhead = 16

// EntrySize returns the accounted size of an entry.
func EntrySize(entry Entry) int64 {
	return int64(len(entry.Key)) + int64(len(entry.Value)) + entryOverhead
}

var lastID uint64

// nextID returns a process-unique memtable id.
func nextID() uint64 { return atomic.AddUint64(&lastID, 1) }

// Memtable is an immutable batch of entries sharing one epoch and one
// table, sorted by key with duplicates collapsed. It owns a memory
// reservation that is released when the memtable is dropped.
type Memtable struct {
	id      uint64
	table   keys.TableID
	epoch   epochs.Epoch
	entries []Entry
	size    int64
	res     *buffer.Reservation
}

// Build sorts ops by key, collapses duplicates with the latest write
// winning, and wraps them into a memtable owning res.
func Build(table keys.TableID, epoch epochs.Epoch, ops []Entry, res *buffer.Reservation) *Memtable {
	sorted := make([]Entry, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, k int) bool {
		return bytes.Compare(sorted[i].Key, sorted[k].Key) < 0
	})

	// collapse duplicates, the later op in the batch wins
	deduped := sorted[:0]
	for _, entry := range sorted {
		if len(deduped) > 0 && bytes.Equal(deduped[len(deduped)-1].Key, entry.Key) {
			deduped[len(deduped)-1] = entry
			continue
		}
		deduped = append(deduped, entry)
	}

	var size int64
	for _, entry := range deduped {
		size += EntrySize(entry)
	}

	return &Memtable{
		id:      nextID(),
		table:   table,
		epoch:   epoch,
		entries: deduped,
		size:    size,
		res:     res,
	}
}

// Size returns the accounted size of ops before building, so callers can
// reserve memory up front.
func Size(ops []Entry) int64 {
	var size int64
	for _, entry := range ops {
		size += EntrySize(entry)
	}
	return size
}

// ID returns the process-unique memtable id.
func (m *Memtable) ID() uint64 { return m.id }

// Table returns the table all entries belong to.
func (m *Memtable) Table() keys.TableID { return m.table }

// Epoch returns the epoch all entries share.
func (m *Memtable) Epoch() epochs.Epoch { return m.epoch }

// Len returns the number of entries.
func (m *Memtable) Len() int { return len(m.entries) }

// SizeBytes returns the accounted size.
func (m *Memtable) SizeBytes() int64 { return m.size }

// Get binary-searches for a user key.
func (m *Memtable) Get(key []byte) (Entry, bool) {
	i := sort.Search(len(m.entries), func(k int) bool {
		return bytes.Compare(m.entries[k].Key, key) >= 0
	})
	if i < len(m.entries) && bytes.Equal(m.entries[i].Key, key) {
		return m.entries[i], true
	}
	return Entry{}, false
}

// Slice returns the entries with start ≤ key ≤ end. A nil bound is
// unbounded on that side.
func (m *Memtable) Slice(start, end []byte) []Entry {
	lo := 0
	if start != nil {
		lo = sort.Search(len(m.entries), func(k int) bool {
			return bytes.Compare(m.entries[k].Key, start) >= 0
		})
	}
	hi := len(m.entries)
	if end != nil {
		hi = sort.Search(len(m.entries), func(k int) bool {
			return bytes.Compare(m.entries[k].Key, end) > 0
		})
	}
	if lo > hi {
		return nil
	}
	return m.entries[lo:hi]
}

// Entries returns all entries in key order.
func (m *Memtable) Entries() []Entry { return m.entries }

// Release drops the memory reservation. The entries stay readable, so
// a staging view may keep serving a released memtable until a sync or
// commit replaces it.
func (m *Memtable) Release() { m.res.Release() }
