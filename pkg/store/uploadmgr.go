// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"context"

	"storj.io/lsmstore/internal/sync2"
	"storj.io/lsmstore/pkg/epochs"
)

// UploadHandle follows one background upload task.
type UploadHandle struct {
	id    uint64
	epoch epochs.Epoch
	done  sync2.Fence
	err   error
}

// Wait blocks until the task finished.
func (handle *UploadHandle) Wait() { handle.done.Wait() }

// Err returns the task error after Wait.
func (handle *UploadHandle) Err() error { return handle.err }

// UploadHandleManager tracks background upload tasks by epoch. An epoch
// is reported on DoneChan/Finish once its last handle completes.
//
// Except for the completion sends from task goroutines, all methods must
// be called from the event loop.
type UploadHandleManager struct {
	doneCh  chan uint64
	nextID  uint64
	handles map[uint64]*UploadHandle
	byEpoch map[epochs.Epoch]map[uint64]*UploadHandle
}

// NewUploadHandleManager creates an empty manager.
func NewUploadHandleManager() *UploadHandleManager {
	return &UploadHandleManager{
		doneCh:  make(chan uint64, 1024),
		handles: map[uint64]*UploadHandle{},
		byEpoch: map[epochs.Epoch]map[uint64]*UploadHandle{},
	}
}

// DoneChan delivers the id of every finished task. The loop passes each
// id to Finish to learn whether an epoch completed.
func (mgr *UploadHandleManager) DoneChan() <-chan uint64 { return mgr.doneCh }

// Spawn runs task in a goroutine and attaches its handle to epoch.
func (mgr *UploadHandleManager) Spawn(ctx context.Context, epoch epochs.Epoch, task func(context.Context) error) *UploadHandle {
	mgr.nextID++
	handle := &UploadHandle{id: mgr.nextID, epoch: epoch}
	mgr.attach(handle)

	go func() {
		handle.err = task(ctx)
		// release before the send so Clear can await the fence even
		// when the done channel is full
		handle.done.Release()
		mgr.doneCh <- handle.id
	}()
	return handle
}

func (mgr *UploadHandleManager) attach(handle *UploadHandle) {
	mgr.handles[handle.id] = handle
	bucket, ok := mgr.byEpoch[handle.epoch]
	if !ok {
		bucket = map[uint64]*UploadHandle{}
		mgr.byEpoch[handle.epoch] = bucket
	}
	bucket[handle.id] = handle
}

// Finish records a completed task. It returns the task's epoch when that
// completion was the epoch's last outstanding handle. Ids of drained
// handles report false.
func (mgr *UploadHandleManager) Finish(id uint64) (epochs.Epoch, bool) {
	handle, ok := mgr.handles[id]
	if !ok {
		return 0, false
	}
	delete(mgr.handles, id)

	bucket := mgr.byEpoch[handle.epoch]
	delete(bucket, id)
	if len(bucket) > 0 {
		return 0, false
	}
	delete(mgr.byEpoch, handle.epoch)
	return handle.epoch, true
}

// DrainRange removes and returns all handles for epochs in (lo, hi].
func (mgr *UploadHandleManager) DrainRange(lo, hi epochs.Epoch) []*UploadHandle {
	var drained []*UploadHandle
	for epoch, bucket := range mgr.byEpoch {
		if epoch <= lo || epoch > hi {
			continue
		}
		for id, handle := range bucket {
			drained = append(drained, handle)
			delete(mgr.handles, id)
		}
		delete(mgr.byEpoch, epoch)
	}
	return drained
}

// DrainAll removes and returns every handle.
func (mgr *UploadHandleManager) DrainAll() []*UploadHandle {
	return mgr.DrainRange(0, epochs.Max)
}

// Attach re-registers drained handles under a new epoch. Handles that
// already completed count toward the epoch as soon as their pending
// completion is processed.
func (mgr *UploadHandleManager) Attach(epoch epochs.Epoch, handles []*UploadHandle) {
	for _, handle := range handles {
		handle.epoch = epoch
		mgr.attach(handle)
	}
}

// Outstanding returns the number of tracked handles.
func (mgr *UploadHandleManager) Outstanding() int { return len(mgr.handles) }
