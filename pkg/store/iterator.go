// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"bytes"
	"container/heap"
	"context"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/sstable"
)

// Iterator merges staged and committed sources into one ascending pass
// over user keys, the newest visible entry winning per key.
type Iterator struct {
	table  keys.TableID
	start  []byte
	end    []byte
	cutoff epochs.Epoch

	sources []sourceIter
	heap    mergeHeap

	key   []byte
	value []byte
	err   error
}

func newMergeIterator(table keys.TableID, start, end []byte, cutoff epochs.Epoch) *Iterator {
	return &Iterator{table: table, start: start, end: end, cutoff: cutoff}
}

func (it *Iterator) addMemtable(m *memtable.Memtable, maxEpoch epochs.Epoch) {
	if m.Epoch() > maxEpoch {
		return
	}
	it.sources = append(it.sources, &immIter{
		entries: m.Slice(it.start, it.end),
		epoch:   m.Epoch(),
	})
}

func (it *Iterator) addFile(ctx context.Context, store *sstable.Store, file sstable.Info, maxEpoch epochs.Epoch) error {
	reader, err := store.Open(ctx, file)
	if err != nil {
		return err
	}
	it.sources = append(it.sources, &fileIter{
		iter:     reader.Iter(),
		table:    it.table,
		start:    it.start,
		end:      it.end,
		maxEpoch: maxEpoch,
	})
	return nil
}

// init primes the heap with the first entry of every source.
func (it *Iterator) init() {
	for i, source := range it.sources {
		if source.Next() {
			it.heap = append(it.heap, mergeItem{source: source, src: i})
		} else if err := source.Err(); err != nil {
			it.err = err
		}
	}
	heap.Init(&it.heap)
}

// Next advances to the next visible user key.
func (it *Iterator) Next() bool {
	for it.err == nil && len(it.heap) > 0 {
		top := it.heap[0]
		entry := top.source.Entry()
		key := append([]byte(nil), entry.userKey...)
		epoch := entry.epoch
		kind := entry.kind
		value := append([]byte(nil), entry.value...)

		// discard every entry of this key, the first one is the newest
		for len(it.heap) > 0 && bytes.Equal(it.heap[0].source.Entry().userKey, key) {
			source := it.heap[0].source
			if source.Next() {
				heap.Fix(&it.heap, 0)
			} else {
				heap.Pop(&it.heap)
				if err := source.Err(); err != nil {
					it.err = err
					return false
				}
			}
		}

		if epoch <= it.cutoff || kind == sstable.KindDelete {
			continue
		}
		it.key, it.value = key, value
		return true
	}
	return false
}

// Key returns the current user key.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.value }

// Err returns the first error encountered while iterating.
func (it *Iterator) Err() error { return it.err }

// sourceEntry is a normalized entry of one source.
type sourceEntry struct {
	userKey []byte
	epoch   epochs.Epoch
	kind    sstable.Kind
	value   []byte
}

type sourceIter interface {
	Next() bool
	Entry() sourceEntry
	Err() error
}

// immIter iterates a staged memtable slice.
type immIter struct {
	entries []memtable.Entry
	epoch   epochs.Epoch
	pos     int
	current sourceEntry
}

func (i *immIter) Next() bool {
	if i.pos >= len(i.entries) {
		return false
	}
	entry := i.entries[i.pos]
	i.pos++
	kind := sstable.KindPut
	if entry.Tombstone {
		kind = sstable.KindDelete
	}
	i.current = sourceEntry{userKey: entry.Key, epoch: i.epoch, kind: kind, value: entry.Value}
	return true
}

func (i *immIter) Entry() sourceEntry { return i.current }
func (i *immIter) Err() error         { return nil }

// fileIter iterates a sorted file filtered to one table, a key range and
// a visibility epoch.
type fileIter struct {
	iter     *sstable.Iter
	table    keys.TableID
	start    []byte
	end      []byte
	maxEpoch epochs.Epoch
	current  sourceEntry
	done     bool
}

func (i *fileIter) Next() bool {
	if i.done {
		return false
	}
	for i.iter.Next() {
		entry := i.iter.Entry()
		table := keys.Table(entry.Key)
		if table < i.table {
			continue
		}
		if table > i.table {
			// keys are sorted, nothing of this table follows
			i.done = true
			return false
		}
		userKey := keys.UserKey(entry.Key)
		if i.start != nil && bytes.Compare(userKey, i.start) < 0 {
			continue
		}
		if i.end != nil && bytes.Compare(userKey, i.end) > 0 {
			i.done = true
			return false
		}
		if entry.Epoch > i.maxEpoch {
			continue
		}
		i.current = sourceEntry{userKey: userKey, epoch: entry.Epoch, kind: entry.Kind, value: entry.Value}
		return true
	}
	i.done = true
	return false
}

func (i *fileIter) Entry() sourceEntry { return i.current }
func (i *fileIter) Err() error         { return i.iter.Err() }

// mergeItem is a heap slot holding one source.
type mergeItem struct {
	source sourceIter
	src    int
}

// mergeHeap orders sources by (user key asc, epoch desc, source asc).
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, k int) bool {
	a, b := h[i].source.Entry(), h[k].source.Entry()
	if cmp := bytes.Compare(a.userKey, b.userKey); cmp != 0 {
		return cmp < 0
	}
	if a.epoch != b.epoch {
		return a.epoch > b.epoch
	}
	return h[i].src < h[k].src
}

func (h mergeHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}
