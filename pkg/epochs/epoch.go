// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package epochs defines the logical timestamps that order every write
// in the store.
package epochs

import (
	"time"
)

// Epoch is a 64-bit logical timestamp assigned per write batch.
//
// Bit layout:
//
//	63                        16 15           0
//	+---------------------------+-------------+
//	|  wall clock milliseconds  |  sequence   |
//	+---------------------------+-------------+
//
// The upper 48 bits carry a millisecond wall clock, the lower 16 bits a
// per-millisecond sequence. Epoch ordering therefore follows wall-clock
// ordering for epochs minted more than a millisecond apart.
type Epoch uint64

// physicalShift is the number of sequence bits below the wall clock.
const physicalShift = 16

// Invalid is reserved and never assigned to a write batch.
const Invalid Epoch = 0

// Max is the largest representable epoch.
const Max Epoch = ^Epoch(0)

// FromUnixMillis returns the smallest epoch whose physical time is ms.
func FromUnixMillis(ms int64) Epoch {
	return Epoch(uint64(ms) << physicalShift)
}

// FromTime returns the smallest epoch whose physical time is t.
func FromTime(t time.Time) Epoch {
	return FromUnixMillis(t.UnixNano() / int64(time.Millisecond))
}

// UnixMillis returns the wall-clock milliseconds encoded in the epoch.
func (epoch Epoch) UnixMillis() int64 {
	return int64(uint64(epoch) >> physicalShift)
}

// Time returns the wall-clock time encoded in the epoch.
func (epoch Epoch) Time() time.Time {
	ms := epoch.UnixMillis()
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond))
}

// SubSeconds returns the epoch that is sec seconds older, saturating at zero.
func (epoch Epoch) SubSeconds(sec uint64) Epoch {
	ms := uint64(epoch.UnixMillis())
	if ms <= sec*1000 {
		return Invalid
	}
	return FromUnixMillis(int64(ms - sec*1000))
}

// Valid reports whether the epoch is assigned.
func (epoch Epoch) Valid() bool { return epoch != Invalid }
