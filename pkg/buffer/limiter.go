// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package buffer accounts the memory held by the shared write buffer.
package buffer

import (
	"sync/atomic"

	"github.com/zeebo/errs"
)

// ErrOutOfCapacity is returned when a reservation does not fit the budget.
var ErrOutOfCapacity = errs.Class("out of capacity")

// Limiter hands out reservations over a fixed byte budget without
// blocking. Every immutable memtable in the buffer holds exactly one
// reservation for its size.
type Limiter struct {
	capacity int64
	usage    int64
}

// NewLimiter creates a limiter with the given byte budget.
func NewLimiter(capacity int64) *Limiter {
	return &Limiter{capacity: capacity}
}

// Capacity returns the byte budget.
func (limiter *Limiter) Capacity() int64 { return limiter.capacity }

// Usage returns the currently reserved bytes.
func (limiter *Limiter) Usage() int64 { return atomic.LoadInt64(&limiter.usage) }

// TryAcquire reserves n bytes. It returns nil when the reservation would
// exceed the budget; the caller decides whether to fail fast or retry.
func (limiter *Limiter) TryAcquire(n int64) *Reservation {
	for {
		usage := atomic.LoadInt64(&limiter.usage)
		if usage+n > limiter.capacity {
			return nil
		}
		if atomic.CompareAndSwapInt64(&limiter.usage, usage, usage+n) {
			return &Reservation{limiter: limiter, bytes: n}
		}
	}
}

// Reservation holds n bytes of the limiter's budget until released.
type Reservation struct {
	limiter  *Limiter
	bytes    int64
	released int32
}

// Bytes returns the reserved size.
func (res *Reservation) Bytes() int64 {
	if res == nil {
		return 0
	}
	return res.bytes
}

// Release returns the bytes to the limiter. Releasing twice is a no-op.
func (res *Reservation) Release() {
	if res == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&res.released, 0, 1) {
		atomic.AddInt64(&res.limiter.usage, -res.bytes)
	}
}
