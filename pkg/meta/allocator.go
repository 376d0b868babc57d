// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package meta

import (
	"context"
	"sync"

	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/private/objectstore"
)

var mon = monkit.Package()

// IDAllocator hands out file ids from remote batches and tracks, per
// epoch, the smallest id whose file may still be uncommitted. The
// watermark lets garbage collection spare files of in-flight syncs.
type IDAllocator struct {
	client     Client
	fetchCount int

	mu         sync.Mutex
	next       objectstore.FileID
	end        objectstore.FileID
	watermarks map[epochs.Epoch]objectstore.FileID
}

// NewIDAllocator creates an allocator fetching ids in batches of
// fetchCount.
func NewIDAllocator(client Client, fetchCount int) *IDAllocator {
	if fetchCount <= 0 {
		fetchCount = 1
	}
	return &IDAllocator{
		client:     client,
		fetchCount: fetchCount,
		watermarks: map[epochs.Epoch]objectstore.FileID{},
	}
}

// AllocateFileID returns the next file id, fetching a new batch from the
// metadata service when the current one is exhausted.
func (alloc *IDAllocator) AllocateFileID(ctx context.Context) (_ objectstore.FileID, err error) {
	defer mon.Task()(&ctx)(&err)

	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	if alloc.next >= alloc.end {
		first, err := alloc.client.AllocateFileIDs(ctx, alloc.fetchCount)
		if err != nil {
			return 0, ErrUnavailable.Wrap(err)
		}
		alloc.next, alloc.end = first, first+objectstore.FileID(alloc.fetchCount)
	}

	id := alloc.next
	alloc.next++
	return id, nil
}

// MarkEpoch records the watermark for an epoch at the next id to be
// allocated, before its upload task starts allocating.
func (alloc *IDAllocator) MarkEpoch(epoch epochs.Epoch) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	if _, ok := alloc.watermarks[epoch]; !ok {
		alloc.watermarks[epoch] = alloc.next
	}
}

// RemoveWatermark drops the watermarks of all epochs at or below epoch.
func (alloc *IDAllocator) RemoveWatermark(epoch epochs.Epoch) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	for e := range alloc.watermarks {
		if e <= epoch {
			delete(alloc.watermarks, e)
		}
	}
}

// MinUncommitted returns the smallest id that may belong to an
// uncommitted file, when any epoch is still tracked.
func (alloc *IDAllocator) MinUncommitted() (objectstore.FileID, bool) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	var min objectstore.FileID
	found := false
	for _, id := range alloc.watermarks {
		if !found || id < min {
			min, found = id, true
		}
	}
	return min, found
}
