// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"context"

	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/buffer"
	"storj.io/lsmstore/pkg/conflict"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/meta"
	"storj.io/lsmstore/pkg/sstable"
)

// WriteOptions tags an ingested batch.
type WriteOptions struct {
	Epoch epochs.Epoch
}

// ReadOptions tunes a read.
type ReadOptions struct {
	// RetentionSeconds, when set, hides entries more than that many
	// seconds older than the read epoch.
	RetentionSeconds *uint64
	// CheckBloomFilter consults the bloom filter before opening files.
	CheckBloomFilter bool
	// PrefixHint is carried with the options; Get and Iter do not
	// consult it.
	PrefixHint []byte
}

// retentionCutoff returns the exclusive lower epoch bound of a read.
func (opts ReadOptions) retentionCutoff(readEpoch epochs.Epoch) epochs.Epoch {
	if opts.RetentionSeconds == nil {
		return epochs.Invalid
	}
	return readEpoch.SubSeconds(*opts.RetentionSeconds)
}

// Storage is a per-table reader/writer instance. Reads see the union of
// the committed state, the uncommitted sorted files, and the unsynced
// memtables visible at the read epoch, newest epoch winning.
//
// It does not hold the handler; it talks to the loop through the event
// channel and shares the staging view, the local version, the limiter,
// the sorted-file store, the metadata client and the conflict detector.
type Storage struct {
	log      *zap.Logger
	options  Options
	table    keys.TableID
	instance uint64

	staging    *Staging
	sstables   *sstable.Store
	metaClient meta.Client
	limiter    *buffer.Limiter
	detector   *conflict.Detector

	send         func(Event) error
	maxSyncEpoch func() epochs.Epoch
}

func newStorage(handler *Handler, table keys.TableID, instance uint64, staging *Staging) *Storage {
	events, done := handler.events, handler.done
	send := func(ev Event) error {
		select {
		case events <- ev:
			return nil
		case <-done:
			return Error.New("event loop closed")
		}
	}
	return &Storage{
		log:          handler.log.Named("storage"),
		options:      handler.options,
		table:        table,
		instance:     instance,
		staging:      staging,
		sstables:     handler.sstables,
		metaClient:   handler.metaClient,
		limiter:      handler.tracker.Limiter(),
		detector:     handler.detector,
		send:         send,
		maxSyncEpoch: handler.local.MaxSyncEpoch,
	}
}

// Table returns the instance's table.
func (storage *Storage) Table() keys.TableID { return storage.table }

// Instance returns the instance id.
func (storage *Storage) Instance() uint64 { return storage.instance }

// Staging exposes the staging view, mainly for tests.
func (storage *Storage) Staging() *Staging { return storage.staging }

// Close destroys the instance.
func (storage *Storage) Close() error {
	return storage.send(DestroyInstance{Table: storage.table, Instance: storage.instance})
}

// IngestBatch places a batch of writes tagged with one epoch into the
// shared buffer. The writer observes its own writes immediately.
func (storage *Storage) IngestBatch(ctx context.Context, entries []memtable.Entry, opts WriteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !opts.Epoch.Valid() {
		return Error.New("epoch 0 is reserved")
	}
	if opts.Epoch <= storage.maxSyncEpoch() {
		return ErrSyncStale.New("ingest at epoch %d, checkpoint sealed at %d",
			opts.Epoch, storage.maxSyncEpoch())
	}
	if err := storage.detector.Check(opts.Epoch); err != nil {
		return Error.Wrap(err)
	}
	if len(entries) == 0 {
		return nil
	}

	res := storage.limiter.TryAcquire(memtable.Size(entries))
	if res == nil {
		return buffer.ErrOutOfCapacity.New("batch of %d bytes", memtable.Size(entries))
	}

	m := memtable.Build(storage.table, opts.Epoch, entries, res)
	storage.staging.AddImm(m)

	if err := storage.send(ImmToUploader{Memtable: m}); err != nil {
		m.Release()
		return err
	}
	return storage.send(BufferMayFlush{})
}

// Get returns the value of key visible at the read epoch, or nil when
// the key is absent or deleted.
func (storage *Storage) Get(ctx context.Context, key []byte, readEpoch epochs.Epoch, opts ReadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	cutoff := opts.retentionCutoff(readEpoch)
	imms, files, pinned := storage.staging.snapshot()
	encoded := keys.Encode(storage.table, key)

	// staged memtables, newest epoch first
	for _, m := range imms {
		if m.Epoch() > readEpoch {
			continue
		}
		if entry, ok := m.Get(key); ok {
			if m.Epoch() <= cutoff || entry.Tombstone {
				return nil, nil
			}
			return append([]byte(nil), entry.Value...), nil
		}
	}

	// staged uncommitted files, newest first
	if value, found, err := storage.searchFiles(ctx, files, encoded, readEpoch, cutoff, opts); err != nil || found {
		return value, err
	}

	// committed files at or below the committed epoch
	committedCap := readEpoch
	if committed := pinned.MaxCommittedEpoch(); committed < committedCap {
		committedCap = committed
	}
	group := pinned.Version().Groups[pinned.Version().GroupFor(storage.table)]
	if group == nil {
		return nil, nil
	}
	value, _, err := storage.searchFiles(ctx, group.Files, encoded, committedCap, cutoff, opts)
	return value, err
}

// searchFiles scans files newest first for the newest visible entry of
// key. found is true when the search is decided, even if the answer is
// "deleted".
func (storage *Storage) searchFiles(ctx context.Context, files []sstable.Info, encoded []byte, maxEpoch, cutoff epochs.Epoch, opts ReadOptions) (value []byte, found bool, err error) {
	for _, file := range files {
		if file.MinEpoch > maxEpoch {
			continue
		}
		if !file.OverlapsKey(encoded) {
			continue
		}
		reader, err := storage.sstables.Open(ctx, file)
		if err != nil {
			return nil, false, err
		}
		if opts.CheckBloomFilter && !reader.MayContain(encoded) {
			continue
		}
		entry, ok, err := reader.Get(encoded, maxEpoch)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if entry.Epoch <= cutoff || entry.Kind == sstable.KindDelete {
			return nil, true, nil
		}
		return append([]byte(nil), entry.Value...), true, nil
	}
	return nil, false, nil
}

// Iter returns an iterator over user keys in [start, end], ascending,
// with shadowing and retention applied. Nil bounds are unbounded.
func (storage *Storage) Iter(ctx context.Context, start, end []byte, readEpoch epochs.Epoch, opts ReadOptions) (_ *Iterator, err error) {
	defer mon.Task()(&ctx)(&err)

	cutoff := opts.retentionCutoff(readEpoch)
	imms, files, pinned := storage.staging.snapshot()

	merge := newMergeIterator(storage.table, start, end, cutoff)

	for _, m := range imms {
		if m.Epoch() > readEpoch {
			continue
		}
		merge.addMemtable(m, readEpoch)
	}
	for _, file := range files {
		if file.MinEpoch > readEpoch {
			continue
		}
		if err := merge.addFile(ctx, storage.sstables, file, readEpoch); err != nil {
			return nil, err
		}
	}

	committedCap := readEpoch
	if committed := pinned.MaxCommittedEpoch(); committed < committedCap {
		committedCap = committed
	}
	group := pinned.Version().Groups[pinned.Version().GroupFor(storage.table)]
	if group != nil {
		for _, file := range group.Files {
			if file.MinEpoch > committedCap {
				continue
			}
			if err := merge.addFile(ctx, storage.sstables, file, committedCap); err != nil {
				return nil, err
			}
		}
	}

	merge.init()
	return merge, nil
}
