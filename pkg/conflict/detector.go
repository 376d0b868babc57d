// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package conflict tracks the committed-epoch watermark used to reject
// writes behind the globally committed state.
package conflict

import (
	"sync/atomic"

	"github.com/zeebo/errs"

	"storj.io/lsmstore/pkg/epochs"
)

// Error is the default conflict errs class.
var Error = errs.Class("write conflict")

// Detector rejects writes at or below the committed-epoch watermark.
// A nil detector accepts everything, so callers can hold one
// unconditionally.
type Detector struct {
	watermark uint64
}

// New creates a detector when enabled, nil otherwise.
func New(enabled bool) *Detector {
	if !enabled {
		return nil
	}
	return &Detector{}
}

// SetWatermark advances the watermark. Smaller values are ignored.
func (detector *Detector) SetWatermark(epoch epochs.Epoch) {
	if detector == nil {
		return
	}
	for {
		current := atomic.LoadUint64(&detector.watermark)
		if uint64(epoch) <= current {
			return
		}
		if atomic.CompareAndSwapUint64(&detector.watermark, current, uint64(epoch)) {
			return
		}
	}
}

// Check returns an error when a write at epoch conflicts with the
// committed watermark.
func (detector *Detector) Check(epoch epochs.Epoch) error {
	if detector == nil {
		return nil
	}
	if uint64(epoch) <= atomic.LoadUint64(&detector.watermark) {
		return Error.New("epoch %d at or below committed watermark %d",
			epoch, atomic.LoadUint64(&detector.watermark))
	}
	return nil
}
