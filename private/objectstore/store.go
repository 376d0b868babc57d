// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectstore declares the remote object store that holds
// immutable sorted files.
package objectstore

import (
	"context"
	"strconv"

	"github.com/zeebo/errs"
)

// Error is the default objectstore errs class.
var Error = errs.Class("objectstore error")

// ErrNotFound is returned when a file id has no object.
var ErrNotFound = errs.Class("file not found")

// FileID is a 64-bit object identifier assigned by a remote allocator.
type FileID uint64

// String returns the id in decimal, for logging and store keys.
func (id FileID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Store is a remote store of immutable objects keyed by file id.
//
// Objects are written once with Upload and read back with Read. Uploading
// an id that already exists overwrites it; callers are expected to never
// reuse ids.
type Store interface {
	// Upload stores data under id.
	Upload(ctx context.Context, id FileID, data []byte) error
	// Read returns length bytes starting at offset. A negative length
	// reads to the end of the object.
	Read(ctx context.Context, id FileID, offset, length int64) ([]byte, error)
	// Delete removes the object. Deleting a missing object is an error.
	Delete(ctx context.Context, id FileID) error
	// Close releases the underlying resources.
	Close() error
}

// Slice bounds-checks and cuts a full object for Read implementations
// that hold whole objects in one value.
func Slice(data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(data)) {
		return nil, Error.New("offset %d out of range 0..%d", offset, len(data))
	}
	if length < 0 {
		return data[offset:], nil
	}
	if offset+length > int64(len(data)) {
		return nil, Error.New("read %d+%d past object size %d", offset, length, len(data))
	}
	return data[offset : offset+length], nil
}
