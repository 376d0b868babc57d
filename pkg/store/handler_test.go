// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/internal/memory"
	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/pkg/memtable"
	"storj.io/lsmstore/pkg/store"
)

func TestClearResetsMemory(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	h := newHarness(t, ctx, store.Options{})
	defer h.close()

	storage, err := h.handler.Register(ctx, 1)
	require.NoError(t, err)

	h.ingest(storage, 1, put("aa", "111"))
	h.ingest(storage, 2, put("bb", "222"))
	require.True(t, h.handler.BufferTracker().BufferSize() > 0)

	// a sync waiter pending during clear is failed, not leaked
	require.NoError(t, h.handler.Seal(1, true))
	pending := make(chan store.SyncResult, 1)
	require.NoError(t, h.handler.Send(store.SyncEpoch{Epoch: 1, Result: pending}))

	require.NoError(t, h.handler.Clear(ctx))

	require.EqualValues(t, 0, h.handler.BufferTracker().BufferSize())
	require.Equal(t, 0, storage.Staging().ImmCount())
	require.Equal(t, 0, storage.Staging().FileCount())

	// the waiter got exactly one reply: either the sync finished before
	// the clear drained it, or it was failed with "cleared"
	select {
	case <-pending:
	case <-time.After(time.Minute):
		t.Fatal("pending sync received no reply")
	}

	// the handler keeps working after the reset
	h.ingest(storage, 3, put("cc", "333"))
	require.Equal(t, []byte("333"), h.get(storage, "cc", 3))
}

func TestFlushUnderPressure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// a tiny budget so a single batch crosses the flush threshold
	h := newHarness(t, ctx, store.Options{
		SharedBufferCapacity:   2 * memory.KB,
		SharedBufferFlushRatio: 0.1,
	})
	defer h.close()

	storage, err := h.handler.Register(ctx, 1)
	require.NoError(t, err)

	var entries []memtable.Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, memtable.Entry{
			Key:   []byte{byte('a' + i)},
			Value: make([]byte, 64),
		})
	}
	h.ingest(storage, 1, entries...)

	// the loop flushes opportunistically until usage is back under the
	// threshold
	tracker := h.handler.BufferTracker()
	deadline := time.Now().Add(time.Minute)
	for tracker.BufferSize() > tracker.FlushThreshold() {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never drained: %d > %d", tracker.BufferSize(), tracker.FlushThreshold())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// flushed data is still readable
	require.Equal(t, make([]byte, 64), h.get(storage, "a", 1))

	// the sync absorbs the flushed file
	result := h.sync(1)
	require.NotEmpty(t, result.UncommittedFiles)
	h.commit(1, result)
	require.Equal(t, make([]byte, 64), h.get(storage, "a", 1))
}

func TestInstanceLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// destroying an unknown instance is a programming error; exercise
	// the lifecycle of a known one instead
	h := newHarness(t, ctx, store.Options{})
	defer h.close()

	storage, err := h.handler.Register(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	// a new registration for the same table works
	again, err := h.handler.Register(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSealGauge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	h := newHarness(t, ctx, store.Options{})
	defer h.close()

	require.NoError(t, h.handler.Seal(4, false))
	require.NoError(t, h.handler.Seal(5, true))
	result, err := h.handler.Sync(ctx, 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, h.handler.SealedEpoch())
	h.commit(5, result)
}
