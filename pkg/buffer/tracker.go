// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package buffer

import (
	"sync/atomic"

	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/internal/memory"
)

var mon = monkit.Package()

// Tracker combines the memory limiter with the in-flight upload byte
// counter and decides when the buffer needs another flush.
type Tracker struct {
	flushThreshold int64
	limiter        *Limiter
	uploadingBytes int64
}

// NewTracker creates a tracker over a fresh limiter.
//
// flushRatio scales the capacity into the flush threshold; flushing
// starts once usage not covered by an in-flight upload exceeds it.
func NewTracker(capacity memory.Size, flushRatio float64) *Tracker {
	return &Tracker{
		flushThreshold: int64(float64(capacity.Int64()) * flushRatio),
		limiter:        NewLimiter(capacity.Int64()),
	}
}

// Limiter returns the underlying memory limiter.
func (tracker *Tracker) Limiter() *Limiter { return tracker.limiter }

// FlushThreshold returns the byte threshold above which flushing starts.
func (tracker *Tracker) FlushThreshold() int64 { return tracker.flushThreshold }

// BufferSize returns the bytes currently held by the buffer.
func (tracker *Tracker) BufferSize() int64 { return tracker.limiter.Usage() }

// UploadingBytes returns the bytes covered by in-flight upload tasks.
func (tracker *Tracker) UploadingBytes() int64 {
	return atomic.LoadInt64(&tracker.uploadingBytes)
}

// AddUploading records n bytes entering an upload task.
func (tracker *Tracker) AddUploading(n int64) {
	atomic.AddInt64(&tracker.uploadingBytes, n)
}

// DoneUploading records n bytes leaving an upload task.
func (tracker *Tracker) DoneUploading(n int64) {
	atomic.AddInt64(&tracker.uploadingBytes, -n)
}

// NeedMoreFlush reports whether buffer size minus in-flight upload bytes
// is still above the flush threshold.
func (tracker *Tracker) NeedMoreFlush() bool {
	need := tracker.BufferSize() > tracker.flushThreshold+tracker.UploadingBytes()
	mon.IntVal("buffer_size").Observe(tracker.BufferSize())
	mon.IntVal("uploading_bytes").Observe(tracker.UploadingBytes())
	return need
}
