// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sstable

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storj.io/lsmstore/private/objectstore"
)

// IDAllocator hands out file ids, typically from a remote allocator.
type IDAllocator interface {
	AllocateFileID(ctx context.Context) (objectstore.FileID, error)
}

// readerCacheSize bounds the in-process cache of decoded files.
const readerCacheSize = 128

// Store combines the codec with the object store and the file id
// allocator. It keeps a small in-process cache of decoded files.
type Store struct {
	log       *zap.Logger
	objects   objectstore.Store
	allocator IDAllocator

	blockSize          int
	bloomFalsePositive float64

	mu      sync.Mutex
	readers map[objectstore.FileID]*Reader
}

// NewStore creates a sorted-file store.
func NewStore(log *zap.Logger, objects objectstore.Store, allocator IDAllocator, blockSize int, bloomFalsePositive float64) *Store {
	return &Store{
		log:                log,
		objects:            objects,
		allocator:          allocator,
		blockSize:          blockSize,
		bloomFalsePositive: bloomFalsePositive,
		readers:            map[objectstore.FileID]*Reader{},
	}
}

// NewBuilder creates a builder with the store's settings.
func (store *Store) NewBuilder() *Builder {
	return NewBuilder(store.blockSize, store.bloomFalsePositive)
}

// Upload allocates a file id, uploads the built file and returns its
// metadata.
func (store *Store) Upload(ctx context.Context, builder *Builder) (info Info, err error) {
	defer mon.Task()(&ctx)(&err)

	data, info := builder.Finish()
	id, err := store.allocator.AllocateFileID(ctx)
	if err != nil {
		return Info{}, Error.Wrap(err)
	}
	info.ID = id

	if err := store.objects.Upload(ctx, id, data); err != nil {
		return Info{}, Error.Wrap(err)
	}
	store.log.Debug("uploaded sorted file",
		zap.Uint64("file id", uint64(id)),
		zap.Int64("size", info.FileSize),
		zap.Int("entries", info.EntryCount))
	return info, nil
}

// Open returns a reader for the file, fetching and decoding it when it
// is not cached.
func (store *Store) Open(ctx context.Context, info Info) (_ *Reader, err error) {
	defer mon.Task()(&ctx)(&err)

	store.mu.Lock()
	reader, ok := store.readers[info.ID]
	store.mu.Unlock()
	if ok {
		return reader, nil
	}

	data, err := store.objects.Read(ctx, info.ID, 0, -1)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	reader, err = NewReader(data)
	if err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.readers) >= readerCacheSize {
		for id := range store.readers {
			delete(store.readers, id)
			break
		}
	}
	store.readers[info.ID] = reader
	return reader, nil
}
