// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package store implements the in-process event handler and shared
// buffer of the state store.
//
// A single event loop owns all handler state. Writers place immutable
// memtables into the shared buffer, the loop flushes and syncs them
// into sorted files in the object store, and externally committed
// version updates fan out to every reader instance.
package store

import (
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/internal/memory"
)

var mon = monkit.Package()

// Error is the default store errs class.
var Error = errs.Class("store error")

// ErrSyncOverwritten is returned to a sync waiter displaced by a newer
// request for the same epoch.
var ErrSyncOverwritten = errs.Class("sync overwritten")

// ErrSyncStale is returned when a sync or ingest targets an epoch at or
// below the committed or sealed state.
var ErrSyncStale = errs.Class("sync stale")

// ErrSyncFailed is returned when the upload task of a sync failed.
var ErrSyncFailed = errs.Class("sync task failed")

// Options configures the shared buffer and its event handler.
type Options struct {
	SharedBufferCapacity   memory.Size `help:"total memory budget of the shared write buffer" default:"1.0 GB"`
	SharedBufferFlushRatio float64     `help:"fraction of the budget above which background flushing starts" default:"0.8"`
	SSTableIDFetchCount    int         `help:"batch size for remote file id allocation" default:"10"`
	WriteConflictDetection bool        `help:"reject writes at or below the committed epoch" default:"false"`
	BloomFalsePositive     float64     `help:"false positive probability of sorted file bloom filters" default:"0.01"`
	BlockSize              memory.Size `help:"target size of a sorted file data block" default:"32.0 KB"`
}

// withDefaults fills in zero values so tests can pass partial options.
func (options Options) withDefaults() Options {
	if options.SharedBufferCapacity == 0 {
		options.SharedBufferCapacity = 1 * memory.GB
	}
	if options.SharedBufferFlushRatio == 0 {
		options.SharedBufferFlushRatio = 0.8
	}
	if options.SSTableIDFetchCount == 0 {
		options.SSTableIDFetchCount = 10
	}
	if options.BloomFalsePositive == 0 {
		options.BloomFalsePositive = 0.01
	}
	if options.BlockSize == 0 {
		options.BlockSize = 32 * memory.KB
	}
	return options
}
