// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"storj.io/lsmstore/internal/errs2"
	"storj.io/lsmstore/internal/sync2"
	"storj.io/lsmstore/pkg/buffer"
	"storj.io/lsmstore/pkg/conflict"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/meta"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
	"storj.io/lsmstore/private/objectstore"
)

// Handler is the event handler of the shared buffer. A single event
// loop, started with Run, owns all of its mutable state; writers and
// readers interact with it only through events and the per-instance
// staging latches.
type Handler struct {
	log     *zap.Logger
	options Options

	events chan Event
	done   chan struct{}

	tracker     *buffer.Tracker
	uploads     *UploadHandleManager
	pendingSync map[epochs.Epoch]chan<- SyncResult
	local       *LocalVersion
	sstables    *sstable.Store
	metaClient  meta.Client
	allocator   *meta.IDAllocator
	detector    *conflict.Detector

	committed   sync2.Watch
	sealedEpoch uint64

	instmu       sync.RWMutex
	instances    map[keys.TableID]map[uint64]*Staging
	nextInstance uint64
}

// New creates an event handler over the given object store and metadata
// client, starting from the initial committed version.
func New(log *zap.Logger, options Options, objects objectstore.Store, metaClient meta.Client, initial *version.Version) *Handler {
	options = options.withDefaults()
	version.Validate(initial)

	tracker := buffer.NewTracker(options.SharedBufferCapacity, options.SharedBufferFlushRatio)
	allocator := meta.NewIDAllocator(metaClient, options.SSTableIDFetchCount)
	pinned := version.NewPinned(initial)

	handler := &Handler{
		log:         log,
		options:     options,
		events:      make(chan Event, 256),
		done:        make(chan struct{}),
		tracker:     tracker,
		uploads:     NewUploadHandleManager(),
		pendingSync: map[epochs.Epoch]chan<- SyncResult{},
		local:       NewLocalVersion(log.Named("localversion"), pinned),
		metaClient:  metaClient,
		allocator:   allocator,
		detector:    conflict.New(options.WriteConflictDetection),
		instances:   map[keys.TableID]map[uint64]*Staging{},
	}
	handler.sstables = sstable.NewStore(log.Named("sstable"), objects, allocator,
		options.BlockSize.Int(), options.BloomFalsePositive)
	handler.committed.Set(uint64(initial.MaxCommittedEpoch))
	atomic.StoreUint64(&handler.sealedEpoch, uint64(initial.MaxCommittedEpoch))
	return handler
}

// Run drives the event loop until Shutdown or context cancellation. All
// state transitions happen on this goroutine.
func (handler *Handler) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer close(handler.done)

	for {
		select {
		case id := <-handler.uploads.DoneChan():
			if epoch, ok := handler.uploads.Finish(id); ok {
				handler.handleEpochFinished(ctx, epoch)
			}

		case ev := <-handler.events:
			handler.log.Debug("handling event", zap.Stringer("event", ev))
			switch ev := ev.(type) {
			case BufferMayFlush:
				handler.tryFlushSharedBuffer(ctx)
			case SyncEpoch:
				handler.handleSyncEpoch(ctx, ev)
			case Clear:
				handler.handleClear(ctx, ev)
			case Shutdown:
				handler.log.Info("event loop shutting down")
				return nil
			case VersionUpdate:
				handler.handleVersionUpdate(ctx, ev.Payload)
			case ImmToUploader:
				handler.local.AddUnsynced(ev.Memtable)
			case SealEpoch:
				handler.handleSealEpoch(ev)
			case RegisterInstance:
				handler.handleRegister(ev)
			case DestroyInstance:
				handler.handleDestroy(ev)
			}

		case <-ctx.Done():
			return errs2.IgnoreCanceled(ctx.Err())
		}
	}
}

// Send delivers an event to the loop. It fails once the loop exited.
func (handler *Handler) Send(ev Event) error {
	select {
	case handler.events <- ev:
		return nil
	case <-handler.done:
		return Error.New("event loop closed")
	}
}

// handleEpochFinished reacts to the completion of the last upload handle
// of an epoch.
func (handler *Handler) handleEpochFinished(ctx context.Context, epoch epochs.Epoch) {
	if epoch > handler.local.MaxSyncEpoch() {
		// an opportunistic flush on an epoch that is not sealed yet
		return
	}
	stage, ok := handler.local.RecordStage(epoch)
	if !ok {
		// already committed or cleared
		return
	}
	switch stage {
	case StageSealed:
		// the finished handles were pre-sync flushes
		handler.startSync(ctx, epoch)
	case StageSyncing:
		panic(Error.New("handles finished on epoch %d while still syncing", epoch))
	case StageFailed:
		handler.sendSyncResult(epoch, SyncResult{
			Err: ErrSyncFailed.Wrap(handler.local.SyncError(epoch)),
		})
	case StageSynced:
		handler.finishedSync(epoch)
	}
}

// finishedSync fans the sync output out to the staging views and replies
// to the waiter.
func (handler *Handler) finishedSync(epoch epochs.Epoch) {
	files, size, ok := handler.local.SyncedResult(epoch)
	if !ok {
		return
	}
	flat := handler.local.SyncedFiles(epoch)
	handler.instmu.RLock()
	for _, instances := range handler.instances {
		for _, staging := range instances {
			staging.ApplySync(epoch, flat)
		}
	}
	handler.instmu.RUnlock()

	handler.sendSyncResult(epoch, SyncResult{UncommittedFiles: files, SyncSize: size})
}

func (handler *Handler) sendSyncResult(epoch epochs.Epoch, result SyncResult) {
	ch, ok := handler.pendingSync[epoch]
	if !ok {
		handler.log.Error("sync result for non-requested epoch",
			zap.Uint64("epoch", uint64(epoch)))
		return
	}
	delete(handler.pendingSync, epoch)
	select {
	case ch <- result:
	default:
		handler.log.Error("unable to send sync result, receiver gone",
			zap.Uint64("epoch", uint64(epoch)))
	}
}

// handleSyncEpoch drives the sync state machine for a requested epoch.
func (handler *Handler) handleSyncEpoch(ctx context.Context, ev SyncEpoch) {
	if old, ok := handler.pendingSync[ev.Epoch]; ok {
		select {
		case old <- SyncResult{Err: ErrSyncOverwritten.New("epoch %d", ev.Epoch)}:
		default:
		}
	}
	handler.pendingSync[ev.Epoch] = ev.Result

	prev, ok := handler.local.PrevMaxSyncEpoch(ev.Epoch)
	if !ok {
		handler.sendSyncResult(ev.Epoch, SyncResult{
			Err: ErrSyncStale.New("no sync task on epoch %d, may have been cleared", ev.Epoch),
		})
		return
	}

	// a sync on an unsealed epoch implicitly checkpoint-seals it
	handler.local.SealEpoch(ev.Epoch, true)
	atomic.StoreUint64(&handler.sealedEpoch, uint64(handler.local.SealedEpoch()))
	if _, ok := handler.local.RecordStage(ev.Epoch); !ok {
		handler.sendSyncResult(ev.Epoch, SyncResult{
			Err: ErrSyncStale.New("epoch %d below a later checkpoint", ev.Epoch),
		})
		return
	}

	drained := handler.uploads.DrainRange(prev, ev.Epoch)
	if len(drained) > 0 {
		// pending flush tasks cover this sync; their handles now belong
		// to the sync epoch and completion resumes the state machine
		handler.uploads.Attach(ev.Epoch, drained)
		return
	}

	stage, _ := handler.local.RecordStage(ev.Epoch)
	switch stage {
	case StageSynced:
		handler.finishedSync(ev.Epoch)
	case StageFailed:
		handler.sendSyncResult(ev.Epoch, SyncResult{
			Err: ErrSyncFailed.Wrap(handler.local.SyncError(ev.Epoch)),
		})
	case StageSyncing:
		// upload in flight, its handle reports back
	default:
		handler.startSync(ctx, ev.Epoch)
	}
}

// startSync transitions the record to Syncing and spawns the upload task.
func (handler *Handler) startSync(ctx context.Context, epoch epochs.Epoch) {
	payload, size := handler.local.StartSyncing(epoch)
	handler.allocator.MarkEpoch(epoch)
	handler.tracker.AddUploading(size)
	pinned := handler.local.Pinned()

	handler.uploads.Spawn(ctx, epoch, func(ctx context.Context) error {
		defer handler.tracker.DoneUploading(size)

		files, err := handler.uploadPayload(ctx, pinned, payload)
		if err != nil {
			handler.log.Error("sync upload task failed",
				zap.Uint64("epoch", uint64(epoch)), zap.Error(err))
			handler.local.FailSync(epoch, err)
			return err
		}
		handler.local.FinishSync(epoch, files)
		return nil
	})
}

// handleSealEpoch seals an epoch and publishes the seal gauge.
func (handler *Handler) handleSealEpoch(ev SealEpoch) {
	handler.local.SealEpoch(ev.Epoch, ev.IsCheckpoint)
	atomic.StoreUint64(&handler.sealedEpoch, uint64(handler.local.SealedEpoch()))
}

// tryFlushSharedBuffer keeps issuing flush tasks while the buffer is
// over the flush threshold and flushable memtables remain.
func (handler *Handler) tryFlushSharedBuffer(ctx context.Context) {
	for handler.tracker.NeedMoreFlush() {
		m, ok := handler.local.NextFlushable()
		if !ok {
			break
		}
		handler.spawnFlush(ctx, m)
	}
}

// handleVersionUpdate applies a committed version payload and fans it
// out to every staging view.
func (handler *Handler) handleVersionUpdate(ctx context.Context, payload version.Payload) {
	prevCommitted := handler.local.Pinned().MaxCommittedEpoch()

	newVersion := payload.Pinned
	if newVersion == nil {
		newVersion = handler.local.Pinned().Version()
		for _, delta := range payload.Deltas {
			newVersion = newVersion.Apply(delta)
		}
	}
	version.Validate(newVersion)

	pinned := handler.local.Pinned().NewPin(newVersion)
	handler.local.ApplyCommitted(pinned)

	handler.instmu.RLock()
	for _, instances := range handler.instances {
		for _, staging := range instances {
			staging.ApplyCommitted(pinned)
		}
	}
	handler.instmu.RUnlock()

	committed := pinned.MaxCommittedEpoch()
	if committed > prevCommitted {
		handler.committed.Set(uint64(committed))
		handler.detector.SetWatermark(committed)
		handler.allocator.RemoveWatermark(committed)
		if err := handler.metaClient.UnpinVersionBefore(ctx, pinned.ID()); err != nil {
			handler.log.Warn("unpin version failed", zap.Error(err))
		}
	}
}

// handleRegister creates a staging view and replies with the composed
// storage instance.
func (handler *Handler) handleRegister(ev RegisterInstance) {
	staging := NewStaging(ev.Table, handler.local.Pinned())

	handler.instmu.Lock()
	instances, ok := handler.instances[ev.Table]
	if !ok {
		instances = map[uint64]*Staging{}
		handler.instances[ev.Table] = instances
	}
	instances[ev.Instance] = staging
	handler.instmu.Unlock()

	ev.Result <- newStorage(handler, ev.Table, ev.Instance, staging)
}

// handleDestroy removes an instance; destroying an unknown instance is a
// programming error.
func (handler *Handler) handleDestroy(ev DestroyInstance) {
	handler.instmu.Lock()
	defer handler.instmu.Unlock()

	instances, ok := handler.instances[ev.Table]
	if !ok || instances[ev.Instance] == nil {
		panic(Error.New("destroy unknown instance: table %d instance %d", ev.Table, ev.Instance))
	}
	delete(instances, ev.Instance)
	if len(instances) == 0 {
		delete(handler.instances, ev.Table)
	}
}

// handleClear is the emergency reset: await all upload tasks, fail all
// waiters, drop the buffer. This is the only handler that blocks.
func (handler *Handler) handleClear(ctx context.Context, ev Clear) {
	drained := handler.uploads.DrainAll()
	var group errs2.Group
	for _, handle := range drained {
		handle := handle
		group.Go(func() error {
			handle.Wait()
			return handle.Err()
		})
	}
	for _, err := range group.Wait() {
		handler.log.Error("upload task failed during clear", zap.Error(err))
	}

	for epoch := range handler.pendingSync {
		handler.sendSyncResult(epoch, SyncResult{Err: Error.New("the pending sync is cleared")})
	}

	handler.local.ClearSharedBuffer()

	handler.instmu.RLock()
	for _, instances := range handler.instances {
		for _, staging := range instances {
			staging.Clear()
		}
	}
	handler.instmu.RUnlock()

	handler.allocator.RemoveWatermark(epochs.Max)

	ev.Done.Release()
}

// Register creates a reader instance for a table.
func (handler *Handler) Register(ctx context.Context, table keys.TableID) (*Storage, error) {
	instance := atomic.AddUint64(&handler.nextInstance, 1)
	result := make(chan *Storage, 1)
	if err := handler.Send(RegisterInstance{Table: table, Instance: instance, Result: result}); err != nil {
		return nil, err
	}
	select {
	case storage := <-result:
		return storage, nil
	case <-ctx.Done():
		return nil, Error.Wrap(ctx.Err())
	}
}

// Seal declares that no more writes arrive for epochs at or below epoch.
func (handler *Handler) Seal(epoch epochs.Epoch, isCheckpoint bool) error {
	return handler.Send(SealEpoch{Epoch: epoch, IsCheckpoint: isCheckpoint})
}

// Sync seals and syncs everything at or below epoch into uncommitted
// sorted files and waits for the result.
func (handler *Handler) Sync(ctx context.Context, epoch epochs.Epoch) (SyncResult, error) {
	result := make(chan SyncResult, 1)
	if err := handler.Send(SyncEpoch{Epoch: epoch, Result: result}); err != nil {
		return SyncResult{}, err
	}
	select {
	case res := <-result:
		return res, res.Err
	case <-ctx.Done():
		return SyncResult{}, Error.Wrap(ctx.Err())
	}
}

// Clear drops the whole shared buffer and waits for the reset.
func (handler *Handler) Clear(ctx context.Context) error {
	var done sync2.Fence
	if err := handler.Send(Clear{Done: &done}); err != nil {
		return err
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return Error.Wrap(ctx.Err())
	}
}

// Shutdown asks the event loop to exit.
func (handler *Handler) Shutdown() {
	_ = handler.Send(Shutdown{})
}

// CommittedEpoch returns the latest committed epoch this handler
// observed.
func (handler *Handler) CommittedEpoch() epochs.Epoch {
	return epochs.Epoch(handler.committed.Value())
}

// WaitCommitted blocks until the committed epoch reaches epoch.
func (handler *Handler) WaitCommitted(ctx context.Context, epoch epochs.Epoch) error {
	return handler.committed.Wait(ctx, uint64(epoch))
}

// SealedEpoch returns the latest sealed epoch.
func (handler *Handler) SealedEpoch() epochs.Epoch {
	return epochs.Epoch(atomic.LoadUint64(&handler.sealedEpoch))
}

// BufferTracker exposes the buffer tracker, mainly for tests and
// metrics.
func (handler *Handler) BufferTracker() *buffer.Tracker { return handler.tracker }
