// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package meta_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/pkg/meta"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
	"storj.io/lsmstore/private/objectstore"
)

type countingClient struct {
	meta.Client
	mu      sync.Mutex
	batches []int
	next    objectstore.FileID
}

func (client *countingClient) AllocateFileIDs(ctx context.Context, count int) (objectstore.FileID, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.batches = append(client.batches, count)
	first := client.next + 1
	client.next += objectstore.FileID(count)
	return first, nil
}

func TestIDAllocatorBatches(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	remote := &countingClient{}
	alloc := meta.NewIDAllocator(remote, 10)

	seen := map[objectstore.FileID]bool{}
	for i := 0; i < 25; i++ {
		id, err := alloc.AllocateFileID(ctx)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %v", id)
		seen[id] = true
	}

	// 25 ids from batches of 10 means exactly 3 remote calls
	require.Equal(t, []int{10, 10, 10}, remote.batches)
}

func TestIDAllocatorWatermark(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	alloc := meta.NewIDAllocator(&countingClient{}, 10)

	_, found := alloc.MinUncommitted()
	require.False(t, found)

	alloc.MarkEpoch(1)
	first, err := alloc.AllocateFileID(ctx)
	require.NoError(t, err)
	alloc.MarkEpoch(2)
	_, err = alloc.AllocateFileID(ctx)
	require.NoError(t, err)

	// the watermark is a lower bound on ids allocated after the mark
	min, found := alloc.MinUncommitted()
	require.True(t, found)
	require.True(t, min <= first)

	alloc.RemoveWatermark(1)
	min, found = alloc.MinUncommitted()
	require.True(t, found)
	require.Equal(t, first+1, min)

	alloc.RemoveWatermark(2)
	_, found = alloc.MinUncommitted()
	require.False(t, found)
}

func TestLocalClientCommit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client := meta.NewLocalClient(zaptest.NewLogger(t))
	sub := client.Subscribe()

	base, err := client.PinVersion(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, base.MaxCommittedEpoch)

	delta, err := client.CommitEpoch(ctx, 1, map[version.GroupID][]sstable.Info{
		version.DefaultGroup: {{ID: 7}},
	})
	require.NoError(t, err)
	require.Equal(t, base.ID, delta.PrevID)

	payload := <-sub
	require.Len(t, payload.Deltas, 1)
	require.EqualValues(t, 1, payload.Deltas[0].MaxCommittedEpoch)

	// committing backwards is rejected
	_, err = client.CommitEpoch(ctx, 1, nil)
	require.Error(t, err)

	current, err := client.PinVersion(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, current.MaxCommittedEpoch)
	require.Len(t, current.Groups[version.DefaultGroup].Files, 1)

	require.NoError(t, client.UnpinVersionBefore(ctx, current.ID))
	require.Equal(t, current.ID, client.UnpinnedBefore())
}
