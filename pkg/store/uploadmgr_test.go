// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/store"
)

func waitID(t *testing.T, mgr *store.UploadHandleManager) uint64 {
	t.Helper()
	select {
	case id := <-mgr.DoneChan():
		return id
	case <-time.After(time.Minute):
		t.Fatal("timed out waiting for a finished task")
		return 0
	}
}

func TestUploadHandleManager_EpochEmission(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mgr := store.NewUploadHandleManager()

	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	mgr.Spawn(ctx, 5, func(ctx context.Context) error { <-releaseFirst; return nil })
	mgr.Spawn(ctx, 5, func(ctx context.Context) error { <-releaseSecond; return nil })
	require.Equal(t, 2, mgr.Outstanding())

	close(releaseFirst)
	epoch, done := mgr.Finish(waitID(t, mgr))
	// one handle remains, the epoch is not done yet
	require.False(t, done)
	require.Equal(t, 1, mgr.Outstanding())

	close(releaseSecond)
	epoch, done = mgr.Finish(waitID(t, mgr))
	require.True(t, done)
	require.Equal(t, epochs.Epoch(5), epoch)
	require.Equal(t, 0, mgr.Outstanding())
}

func TestUploadHandleManager_DrainAttach(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mgr := store.NewUploadHandleManager()

	release := make(chan struct{})
	mgr.Spawn(ctx, 3, func(ctx context.Context) error { <-release; return nil })

	// nothing outside the range
	require.Empty(t, mgr.DrainRange(3, 10))
	require.Empty(t, mgr.DrainRange(0, 2))

	drained := mgr.DrainRange(0, 5)
	require.Len(t, drained, 1)
	require.Equal(t, 0, mgr.Outstanding())

	// the flush handle of a previous epoch is now attached to the sync epoch
	mgr.Attach(7, drained)
	require.Equal(t, 1, mgr.Outstanding())

	close(release)
	epoch, done := mgr.Finish(waitID(t, mgr))
	require.True(t, done)
	require.Equal(t, epochs.Epoch(7), epoch)
}

func TestUploadHandleManager_DrainedCompletionIgnored(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mgr := store.NewUploadHandleManager()

	mgr.Spawn(ctx, 3, func(ctx context.Context) error { return nil })
	drained := mgr.DrainAll()
	require.Len(t, drained, 1)

	drained[0].Wait()
	require.NoError(t, drained[0].Err())

	// the pending completion of a drained handle reports no epoch
	_, done := mgr.Finish(waitID(t, mgr))
	require.False(t, done)
}

func TestUploadHandleManager_Errors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mgr := store.NewUploadHandleManager()

	handle := mgr.Spawn(ctx, 2, func(ctx context.Context) error {
		return store.Error.New("upload broke")
	})
	handle.Wait()
	require.Error(t, handle.Err())

	// the epoch still completes, stage inspection decides what failed
	epoch, done := mgr.Finish(waitID(t, mgr))
	require.True(t, done)
	require.Equal(t, epochs.Epoch(2), epoch)
}
