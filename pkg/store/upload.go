// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
)

// spawnFlush uploads a single memtable into a sorted file in the
// background. The produced file stays local to the shared buffer until
// a sync absorbs it.
func (handler *Handler) spawnFlush(ctx context.Context, m *memtable.Memtable) {
	size := m.SizeBytes()
	handler.tracker.AddUploading(size)

	handler.uploads.Spawn(ctx, m.Epoch(), func(ctx context.Context) error {
		defer handler.tracker.DoneUploading(size)

		builder := handler.sstables.NewBuilder()
		for _, entry := range m.Entries() {
			builder.Add(fileEntry(m, entry))
		}
		info, err := handler.sstables.Upload(ctx, builder)
		if err != nil {
			handler.log.Error("flush task failed",
				zap.Uint64("epoch", uint64(m.Epoch())), zap.Error(err))
			handler.local.AbortFlush(m)
			return err
		}
		handler.local.FinishFlush(m, info)
		return nil
	})
}

// uploadPayload builds one sorted file per compaction group from the
// sync payload and uploads them.
func (handler *Handler) uploadPayload(ctx context.Context, pinned version.Pinned, payload []*memtable.Memtable) (_ []sstable.Info, err error) {
	defer mon.Task()(&ctx)(&err)

	grouped := map[version.GroupID][]sstable.Entry{}
	for _, m := range payload {
		group := pinned.Version().GroupFor(m.Table())
		for _, entry := range m.Entries() {
			grouped[group] = append(grouped[group], fileEntry(m, entry))
		}
	}

	var files []sstable.Info
	for _, entries := range grouped {
		sort.SliceStable(entries, func(i, k int) bool {
			cmp := keys.Compare(entries[i].Key, entries[k].Key)
			if cmp != 0 {
				return cmp < 0
			}
			return entries[i].Epoch > entries[k].Epoch
		})

		builder := handler.sstables.NewBuilder()
		for _, entry := range entries {
			builder.Add(entry)
		}
		if builder.Empty() {
			continue
		}
		info, err := handler.sstables.Upload(ctx, builder)
		if err != nil {
			return nil, err
		}
		files = append(files, info)
	}
	return files, nil
}

// fileEntry converts a memtable entry to its file representation.
func fileEntry(m *memtable.Memtable, entry memtable.Entry) sstable.Entry {
	kind := sstable.KindPut
	if entry.Tombstone {
		kind = sstable.KindDelete
	}
	return sstable.Entry{
		Key:   keys.Encode(m.Table(), entry.Key),
		Epoch: m.Epoch(),
		Kind:  kind,
		Value: entry.Value,
	}
}
