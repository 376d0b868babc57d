// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sstable_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/private/objectstore"
	"storj.io/lsmstore/private/objectstore/teststore"
)

type seqAllocator struct{ next uint64 }

func (a *seqAllocator) AllocateFileID(ctx context.Context) (objectstore.FileID, error) {
	return objectstore.FileID(atomic.AddUint64(&a.next, 1)), nil
}

func buildEntries(n int) []sstable.Entry {
	entries := make([]sstable.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, sstable.Entry{
			Key:   keys.Encode(1, []byte(fmt.Sprintf("key-%06d", i))),
			Epoch: 3,
			Kind:  sstable.KindPut,
			Value: []byte(fmt.Sprintf("value-%06d", i)),
		})
	}
	return entries
}

func TestBuildAndRead(t *testing.T) {
	t.Parallel()

	// a small block size forces several blocks
	builder := sstable.NewBuilder(256, 0.01)
	entries := buildEntries(200)
	for _, entry := range entries {
		builder.Add(entry)
	}
	data, info := builder.Finish()
	require.Equal(t, 200, info.EntryCount)
	require.Equal(t, entries[0].Key, info.Range.Smallest)
	require.Equal(t, entries[199].Key, info.Range.Largest)
	require.EqualValues(t, 3, info.MinEpoch)
	require.EqualValues(t, 3, info.MaxEpoch)

	reader, err := sstable.NewReader(data)
	require.NoError(t, err)
	require.Equal(t, 200, reader.EntryCount())

	for _, want := range entries {
		require.True(t, reader.MayContain(want.Key))
		got, found, err := reader.Get(want.Key, epochs.Max)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want.Value, got.Value)
	}

	_, found, err := reader.Get(keys.Encode(1, []byte("missing")), epochs.Max)
	require.NoError(t, err)
	require.False(t, found)

	// iteration returns everything in order
	var decoded []sstable.Entry
	iter := reader.Iter()
	for iter.Next() {
		entry := iter.Entry()
		decoded = append(decoded, sstable.Entry{
			Key:   append([]byte(nil), entry.Key...),
			Epoch: entry.Epoch,
			Kind:  entry.Kind,
			Value: append([]byte(nil), entry.Value...),
		})
	}
	require.NoError(t, iter.Err())
	if diff := cmp.Diff(entries, decoded); diff != "" {
		t.Fatalf("unexpected entries: %v", diff)
	}
}

func TestEpochShadowing(t *testing.T) {
	t.Parallel()

	key := keys.Encode(1, []byte("aa"))
	builder := sstable.NewBuilder(0, 0.01)
	builder.Add(sstable.Entry{Key: key, Epoch: 3, Kind: sstable.KindDelete})
	builder.Add(sstable.Entry{Key: key, Epoch: 2, Kind: sstable.KindPut, Value: []byte("222")})
	builder.Add(sstable.Entry{Key: key, Epoch: 1, Kind: sstable.KindPut, Value: []byte("111")})
	data, info := builder.Finish()
	require.EqualValues(t, 1, info.MinEpoch)
	require.EqualValues(t, 3, info.MaxEpoch)

	reader, err := sstable.NewReader(data)
	require.NoError(t, err)

	entry, found, err := reader.Get(key, epochs.Max)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, sstable.KindDelete, entry.Kind)

	entry, found, err = reader.Get(key, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("222"), entry.Value)

	entry, found, err = reader.Get(key, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("111"), entry.Value)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	_, err := sstable.NewReader([]byte("short"))
	require.True(t, sstable.ErrDecode.Has(err))

	builder := sstable.NewBuilder(0, 0.01)
	builder.Add(sstable.Entry{Key: keys.Encode(1, []byte("aa")), Epoch: 1, Kind: sstable.KindPut, Value: []byte("1")})
	data, _ := builder.Finish()
	data[len(data)-1] ^= 0xff
	_, err = sstable.NewReader(data)
	require.True(t, sstable.ErrDecode.Has(err))
}

func TestStore(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	objects := teststore.New()
	store := sstable.NewStore(zaptest.NewLogger(t), objects, &seqAllocator{}, 0, 0.01)

	builder := store.NewBuilder()
	for _, entry := range buildEntries(10) {
		builder.Add(entry)
	}
	info, err := store.Upload(ctx, builder)
	require.NoError(t, err)
	require.NotZero(t, info.ID)
	require.Equal(t, 1, objects.Len())

	reader, err := store.Open(ctx, info)
	require.NoError(t, err)
	require.Equal(t, 10, reader.EntryCount())

	// the second open is served from the cache
	again, err := store.Open(ctx, info)
	require.NoError(t, err)
	require.Equal(t, 1, objects.CallCount.Read)
	require.True(t, reader == again)
}
