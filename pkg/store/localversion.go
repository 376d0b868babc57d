// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
)

// SyncStage is the lifecycle stage of a sync epoch.
type SyncStage int

// sync stages
const (
	StageSealed SyncStage = iota
	StageSyncing
	StageSynced
	StageFailed
)

func (stage SyncStage) String() string {
	switch stage {
	case StageSealed:
		return "sealed"
	case StageSyncing:
		return "syncing"
	case StageSynced:
		return "synced"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// unsyncedEpoch collects the shared-buffer state of one epoch before it
// is sealed into a sync record.
type unsyncedEpoch struct {
	imms     []*memtable.Memtable
	files    []sstable.Info
	flushing map[uint64]bool
}

// syncRecord tracks one sync epoch through the stages
// Sealed → Syncing → Synced or Failed.
type syncRecord struct {
	epoch    epochs.Epoch
	stage    SyncStage
	imms     []*memtable.Memtable
	files    []sstable.Info
	flushing map[uint64]bool
	syncSize int64
	err      error
}

// LocalVersion aggregates the process-wide shared-buffer state: the
// unsynced memtables grouped by epoch, the per-sync-epoch records, and
// the pinned committed version. Upload tasks mutate it concurrently with
// the event loop, so every method locks.
type LocalVersion struct {
	log *zap.Logger

	mu           sync.RWMutex
	pinned       version.Pinned
	unsynced     map[epochs.Epoch]*unsyncedEpoch
	records      map[epochs.Epoch]*syncRecord
	syncEpochs   []epochs.Epoch // ascending
	maxSyncEpoch epochs.Epoch
	sealedEpoch  epochs.Epoch
}

// NewLocalVersion creates the shared-buffer state over a pinned version.
func NewLocalVersion(log *zap.Logger, pinned version.Pinned) *LocalVersion {
	return &LocalVersion{
		log:          log,
		pinned:       pinned,
		unsynced:     map[epochs.Epoch]*unsyncedEpoch{},
		records:      map[epochs.Epoch]*syncRecord{},
		maxSyncEpoch: pinned.MaxCommittedEpoch(),
		sealedEpoch:  pinned.MaxCommittedEpoch(),
	}
}

// Pinned returns the current pinned version.
func (local *LocalVersion) Pinned() version.Pinned {
	local.mu.RLock()
	defer local.mu.RUnlock()
	return local.pinned
}

// MaxSyncEpoch returns the largest checkpoint-sealed epoch, raised to the
// committed epoch when that is larger; clearing resets it to the
// committed epoch.
func (local *LocalVersion) MaxSyncEpoch() epochs.Epoch {
	local.mu.RLock()
	defer local.mu.RUnlock()
	return local.maxSyncEpoch
}

// AddUnsynced pushes a memtable into its epoch's unsynced bucket. The
// producer acquired the memory reservation already.
func (local *LocalVersion) AddUnsynced(m *memtable.Memtable) {
	local.mu.Lock()
	defer local.mu.Unlock()

	bucket, ok := local.unsynced[m.Epoch()]
	if !ok {
		bucket = &unsyncedEpoch{flushing: map[uint64]bool{}}
		local.unsynced[m.Epoch()] = bucket
	}
	bucket.imms = append(bucket.imms, m)
}

// SealEpoch marks that no further writes for epochs at or below epoch
// are expected. A checkpoint seal additionally creates the sync record
// and absorbs every unsynced epoch at or below it. Checkpoint seals must
// move strictly forward; stale ones are rejected.
func (local *LocalVersion) SealEpoch(epoch epochs.Epoch, isCheckpoint bool) {
	local.mu.Lock()
	defer local.mu.Unlock()

	if epoch > local.sealedEpoch {
		local.sealedEpoch = epoch
	}
	if !isCheckpoint {
		return
	}
	local.sealLocked(epoch)
}

func (local *LocalVersion) sealLocked(epoch epochs.Epoch) *syncRecord {
	if record, ok := local.records[epoch]; ok {
		return record
	}
	if epoch <= local.maxSyncEpoch {
		local.log.Error("rejecting stale checkpoint seal",
			zap.Uint64("epoch", uint64(epoch)),
			zap.Uint64("max sync epoch", uint64(local.maxSyncEpoch)))
		return nil
	}

	record := &syncRecord{
		epoch:    epoch,
		stage:    StageSealed,
		flushing: map[uint64]bool{},
	}
	for e, bucket := range local.unsynced {
		if e > epoch {
			continue
		}
		record.imms = append(record.imms, bucket.imms...)
		record.files = append(record.files, bucket.files...)
		for id := range bucket.flushing {
			record.flushing[id] = true
		}
		delete(local.unsynced, e)
	}

	local.records[epoch] = record
	i := sort.Search(len(local.syncEpochs), func(k int) bool { return local.syncEpochs[k] >= epoch })
	local.syncEpochs = append(local.syncEpochs, 0)
	copy(local.syncEpochs[i+1:], local.syncEpochs[i:])
	local.syncEpochs[i] = epoch
	local.maxSyncEpoch = epoch
	return record
}

// SealedEpoch returns the largest sealed epoch, checkpoint or not.
func (local *LocalVersion) SealedEpoch() epochs.Epoch {
	local.mu.RLock()
	defer local.mu.RUnlock()
	return local.sealedEpoch
}

// RecordStage returns the stage of the sync record for epoch.
func (local *LocalVersion) RecordStage(epoch epochs.Epoch) (SyncStage, bool) {
	local.mu.RLock()
	defer local.mu.RUnlock()
	record, ok := local.records[epoch]
	if !ok {
		return 0, false
	}
	return record.stage, true
}

// PrevMaxSyncEpoch returns the largest sync epoch strictly below epoch,
// falling back to the committed epoch. It reports false when epoch is
// already committed and the sync is stale.
func (local *LocalVersion) PrevMaxSyncEpoch(epoch epochs.Epoch) (epochs.Epoch, bool) {
	local.mu.RLock()
	defer local.mu.RUnlock()

	if epoch <= local.pinned.MaxCommittedEpoch() {
		return 0, false
	}
	prev := local.pinned.MaxCommittedEpoch()
	for _, syncEpoch := range local.syncEpochs {
		if syncEpoch >= epoch {
			break
		}
		prev = syncEpoch
	}
	return prev, true
}

// StartSyncing transitions the record from Sealed to Syncing, sealing at
// epoch first when no record exists. The payload absorbs every earlier
// record still in Sealed, so a sync covers prior uncheckpointed seals.
// It returns the memtables to upload and their byte size.
func (local *LocalVersion) StartSyncing(epoch epochs.Epoch) ([]*memtable.Memtable, int64) {
	local.mu.Lock()
	defer local.mu.Unlock()

	record := local.records[epoch]
	if record == nil {
		record = local.sealLocked(epoch)
		if record == nil {
			return nil, 0
		}
	}
	if record.stage != StageSealed {
		local.log.Error("start syncing on unexpected stage",
			zap.Uint64("epoch", uint64(epoch)), zap.Stringer("stage", record.stage))
		return nil, 0
	}

	// absorb earlier sealed-but-never-synced records
	for _, syncEpoch := range append([]epochs.Epoch(nil), local.syncEpochs...) {
		if syncEpoch >= epoch {
			break
		}
		earlier := local.records[syncEpoch]
		if earlier == nil || earlier.stage != StageSealed {
			continue
		}
		record.imms = append(append([]*memtable.Memtable(nil), earlier.imms...), record.imms...)
		record.files = append(append([]sstable.Info(nil), earlier.files...), record.files...)
		for id := range earlier.flushing {
			record.flushing[id] = true
		}
		delete(local.records, syncEpoch)
		local.removeSyncEpochLocked(syncEpoch)
	}

	record.stage = StageSyncing
	payload := append([]*memtable.Memtable(nil), record.imms...)
	record.syncSize = 0
	for _, m := range payload {
		record.syncSize += m.SizeBytes()
	}
	return payload, record.syncSize
}

func (local *LocalVersion) removeSyncEpochLocked(epoch epochs.Epoch) {
	for i, e := range local.syncEpochs {
		if e == epoch {
			local.syncEpochs = append(local.syncEpochs[:i], local.syncEpochs[i+1:]...)
			return
		}
	}
}

// FinishSync records a successful upload: the produced files join the
// record, the memtable reservations are released, and the record moves
// to Synced.
func (local *LocalVersion) FinishSync(epoch epochs.Epoch, produced []sstable.Info) {
	local.mu.Lock()
	defer local.mu.Unlock()

	record := local.records[epoch]
	if record == nil {
		// cleared while the task ran
		return
	}
	record.files = append(record.files, produced...)
	for _, m := range record.imms {
		m.Release()
	}
	record.imms = nil
	record.stage = StageSynced
}

// FailSync moves the record to Failed. The record stays until a commit
// or Clear removes it.
func (local *LocalVersion) FailSync(epoch epochs.Epoch, err error) {
	local.mu.Lock()
	defer local.mu.Unlock()

	record := local.records[epoch]
	if record == nil {
		return
	}
	record.stage = StageFailed
	record.err = err
}

// SyncedResult returns the grouped files and byte size of a Synced
// record.
func (local *LocalVersion) SyncedResult(epoch epochs.Epoch) (map[version.GroupID][]sstable.Info, int64, bool) {
	local.mu.RLock()
	defer local.mu.RUnlock()

	record, ok := local.records[epoch]
	if !ok || record.stage != StageSynced {
		return nil, 0, false
	}
	grouped := map[version.GroupID][]sstable.Info{}
	for _, file := range record.files {
		group := local.pinned.Version().GroupFor(keys.Table(file.Range.Smallest))
		grouped[group] = append(grouped[group], file)
	}
	return grouped, record.syncSize, true
}

// SyncError returns the error of a Failed record.
func (local *LocalVersion) SyncError(epoch epochs.Epoch) error {
	local.mu.RLock()
	defer local.mu.RUnlock()
	if record, ok := local.records[epoch]; ok {
		return record.err
	}
	return nil
}

// SyncedFiles returns the flat file list of a Synced record, for staging
// fan-out.
func (local *LocalVersion) SyncedFiles(epoch epochs.Epoch) []sstable.Info {
	local.mu.RLock()
	defer local.mu.RUnlock()
	record, ok := local.records[epoch]
	if !ok || record.stage != StageSynced {
		return nil
	}
	return append([]sstable.Info(nil), record.files...)
}

// NextFlushable picks the oldest unsynced memtable that is not being
// flushed and marks it as flushing.
func (local *LocalVersion) NextFlushable() (*memtable.Memtable, bool) {
	local.mu.Lock()
	defer local.mu.Unlock()

	var oldest epochs.Epoch
	var bucket *unsyncedEpoch
	for epoch, candidate := range local.unsynced {
		hasIdle := false
		for _, m := range candidate.imms {
			if !candidate.flushing[m.ID()] {
				hasIdle = true
				break
			}
		}
		if !hasIdle {
			continue
		}
		if bucket == nil || epoch < oldest {
			oldest, bucket = epoch, candidate
		}
	}
	if bucket == nil {
		return nil, false
	}
	for _, m := range bucket.imms {
		if !bucket.flushing[m.ID()] {
			bucket.flushing[m.ID()] = true
			return m, true
		}
	}
	return nil, false
}

// FinishFlush replaces a flushed memtable with its produced file,
// wherever the memtable lives now, and releases its reservation.
func (local *LocalVersion) FinishFlush(m *memtable.Memtable, produced sstable.Info) {
	local.mu.Lock()
	defer local.mu.Unlock()

	if bucket, ok := local.unsynced[m.Epoch()]; ok && removeImm(&bucket.imms, m) {
		delete(bucket.flushing, m.ID())
		bucket.files = append(bucket.files, produced)
		m.Release()
		return
	}
	for _, record := range local.records {
		if removeImm(&record.imms, m) {
			delete(record.flushing, m.ID())
			record.files = append(record.files, produced)
			m.Release()
			return
		}
	}
	// cleared while the task ran
	m.Release()
}

// AbortFlush unmarks a memtable whose flush task failed, so it can be
// retried or picked up by a sync.
func (local *LocalVersion) AbortFlush(m *memtable.Memtable) {
	local.mu.Lock()
	defer local.mu.Unlock()

	if bucket, ok := local.unsynced[m.Epoch()]; ok {
		delete(bucket.flushing, m.ID())
	}
	for _, record := range local.records {
		delete(record.flushing, m.ID())
	}
}

// ApplyCommitted replaces the pinned version and evicts every sync
// record covered by the new committed epoch.
func (local *LocalVersion) ApplyCommitted(pinned version.Pinned) {
	local.mu.Lock()
	defer local.mu.Unlock()

	local.pinned = pinned
	committed := pinned.MaxCommittedEpoch()
	for _, syncEpoch := range append([]epochs.Epoch(nil), local.syncEpochs...) {
		if syncEpoch > committed {
			break
		}
		if record, ok := local.records[syncEpoch]; ok {
			for _, m := range record.imms {
				m.Release()
			}
			delete(local.records, syncEpoch)
		}
		local.removeSyncEpochLocked(syncEpoch)
	}
	if committed > local.maxSyncEpoch {
		local.maxSyncEpoch = committed
	}
	if committed > local.sealedEpoch {
		local.sealedEpoch = committed
	}
}

// ClearSharedBuffer drops all unsynced memtables and sync records,
// releasing their reservations, and resets the sync state to the pinned
// version.
func (local *LocalVersion) ClearSharedBuffer() {
	local.mu.Lock()
	defer local.mu.Unlock()

	for _, bucket := range local.unsynced {
		for _, m := range bucket.imms {
			m.Release()
		}
	}
	for _, record := range local.records {
		for _, m := range record.imms {
			m.Release()
		}
	}
	local.unsynced = map[epochs.Epoch]*unsyncedEpoch{}
	local.records = map[epochs.Epoch]*syncRecord{}
	local.syncEpochs = nil
	local.maxSyncEpoch = local.pinned.MaxCommittedEpoch()
	local.sealedEpoch = local.pinned.MaxCommittedEpoch()
}

// UnsyncedCount returns the number of unsynced memtables, for tests and
// metrics.
func (local *LocalVersion) UnsyncedCount() int {
	local.mu.RLock()
	defer local.mu.RUnlock()
	count := 0
	for _, bucket := range local.unsynced {
		count += len(bucket.imms)
	}
	return count
}

func removeImm(imms *[]*memtable.Memtable, m *memtable.Memtable) bool {
	for i, candidate := range *imms {
		if candidate.ID() == m.ID() {
			*imms = append((*imms)[:i], (*imms)[i+1:]...)
			return true
		}
	}
	return false
}
