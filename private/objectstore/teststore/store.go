// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory object store.
package teststore

import (
	"context"
	"sync"

	"storj.io/lsmstore/private/objectstore"
)

// Store implements objectstore.Store in memory.
type Store struct {
	mu      sync.Mutex
	objects map[objectstore.FileID][]byte

	CallCount struct {
		Upload int
		Read   int
		Delete int
	}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: map[objectstore.FileID][]byte{}}
}

// Upload stores data under id.
func (store *Store) Upload(ctx context.Context, id objectstore.FileID, data []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Upload++

	copied := make([]byte, len(data))
	copy(copied, data)
	store.objects[id] = copied
	return nil
}

// Read returns a slice of the stored object.
func (store *Store) Read(ctx context.Context, id objectstore.FileID, offset, length int64) ([]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Read++

	data, ok := store.objects[id]
	if !ok {
		return nil, objectstore.ErrNotFound.New("%v", id)
	}
	part, err := objectstore.Slice(data, offset, length)
	if err != nil {
		return nil, err
	}
	copied := make([]byte, len(part))
	copy(copied, part)
	return copied, nil
}

// Delete removes the object.
func (store *Store) Delete(ctx context.Context, id objectstore.FileID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if _, ok := store.objects[id]; !ok {
		return objectstore.ErrNotFound.New("%v", id)
	}
	delete(store.objects, id)
	return nil
}

// Len returns the number of stored objects.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.objects)
}

// Close closes the store.
func (store *Store) Close() error { return nil }
