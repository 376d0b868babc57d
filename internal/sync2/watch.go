// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information

package sync2

import (
	"context"
	"sync"
)

// Watch is a monotonically increasing uint64 that can be waited on.
//
// The zero value is valid and starts at zero. Set only ever moves the
// value forward; waiters observe the latest value, not every transition.
type Watch struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func (watch *Watch) init() {
	if watch.changed == nil {
		watch.changed = make(chan struct{})
	}
}

// Value returns the current value.
func (watch *Watch) Value() uint64 {
	watch.mu.Lock()
	defer watch.mu.Unlock()
	return watch.value
}

// Set advances the value. Values smaller than the current one are ignored.
func (watch *Watch) Set(value uint64) {
	watch.mu.Lock()
	defer watch.mu.Unlock()
	watch.init()
	if value <= watch.value {
		return
	}
	watch.value = value
	close(watch.changed)
	watch.changed = make(chan struct{})
}

// Wait blocks until the value reaches at least target or the context is done.
func (watch *Watch) Wait(ctx context.Context, target uint64) error {
	for {
		watch.mu.Lock()
		watch.init()
		value, changed := watch.value, watch.changed
		watch.mu.Unlock()

		if value >= target {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
