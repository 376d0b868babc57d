// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"fmt"

	"storj.io/lsmstore/internal/sync2"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
)

// SyncResult is the outcome of syncing an epoch: the uncommitted sorted
// files per compaction group and the synced byte size.
type SyncResult struct {
	UncommittedFiles map[version.GroupID][]sstable.Info
	SyncSize         int64
	Err              error
}

// Event is a message to the event loop.
type Event interface {
	fmt.Stringer
	event()
}

// BufferMayFlush notifies the loop that the shared buffer grew and may
// need flushing.
type BufferMayFlush struct{}

func (BufferMayFlush) event()         {}
func (BufferMayFlush) String() string { return "BufferMayFlush" }

// SyncEpoch requests that every write at or below Epoch becomes an
// uncommitted sorted file. The result is delivered exactly once on
// Result.
type SyncEpoch struct {
	Epoch  epochs.Epoch
	Result chan<- SyncResult
}

func (SyncEpoch) event()           {}
func (ev SyncEpoch) String() string { return fmt.Sprintf("SyncEpoch epoch %d", ev.Epoch) }

// Clear drops the whole shared buffer and resets handler state. Done is
// released once the reset finished.
type Clear struct {
	Done *sync2.Fence
}

func (Clear) event()         {}
func (Clear) String() string { return "Clear" }

// Shutdown stops the event loop.
type Shutdown struct{}

func (Shutdown) event()         {}
func (Shutdown) String() string { return "Shutdown" }

// VersionUpdate applies an externally committed version payload.
type VersionUpdate struct {
	Payload version.Payload
}

func (VersionUpdate) event() {}
func (ev VersionUpdate) String() string {
	if ev.Payload.Pinned != nil {
		return fmt.Sprintf("VersionUpdate pinned id %d", ev.Payload.Pinned.ID)
	}
	return fmt.Sprintf("VersionUpdate %d deltas", len(ev.Payload.Deltas))
}

// ImmToUploader hands an immutable memtable to the shared buffer.
type ImmToUploader struct {
	Memtable *memtable.Memtable
}

func (ImmToUploader) event() {}
func (ev ImmToUploader) String() string {
	return fmt.Sprintf("ImmToUploader table %d epoch %d", ev.Memtable.Table(), ev.Memtable.Epoch())
}

// SealEpoch declares that no more writes arrive for epochs at or below
// Epoch. A checkpoint seal additionally makes the epoch syncable.
type SealEpoch struct {
	Epoch        epochs.Epoch
	IsCheckpoint bool
}

func (SealEpoch) event() {}
func (ev SealEpoch) String() string {
	return fmt.Sprintf("SealEpoch epoch %d is_checkpoint %v", ev.Epoch, ev.IsCheckpoint)
}

// RegisterInstance creates a reader instance for a table and replies
// with its storage handle.
type RegisterInstance struct {
	Table    keys.TableID
	Instance uint64
	Result   chan<- *Storage
}

func (RegisterInstance) event() {}
func (ev RegisterInstance) String() string {
	return fmt.Sprintf("RegisterInstance table %d instance %d", ev.Table, ev.Instance)
}

// DestroyInstance removes a reader instance.
type DestroyInstance struct {
	Table    keys.TableID
	Instance uint64
}

func (DestroyInstance) event() {}
func (ev DestroyInstance) String() string {
	return fmt.Sprintf("DestroyInstance table %d instance %d", ev.Table, ev.Instance)
}
