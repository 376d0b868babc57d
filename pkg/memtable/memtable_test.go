// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package memtable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/pkg/buffer"
	"storj.io/lsmstore/pkg/memtable"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	ops := []memtable.Entry{
		{Key: []byte("bb"), Value: []byte("222")},
		{Key: []byte("aa"), Value: []byte("111")},
		{Key: []byte("aa"), Value: []byte("111111")},
		{Key: []byte("cc"), Tombstone: true},
	}

	m := memtable.Build(3, 7, ops, nil)
	require.Equal(t, 3, m.Len())
	require.EqualValues(t, 3, m.Table())
	require.EqualValues(t, 7, m.Epoch())

	// latest write within the batch wins
	entry, ok := m.Get([]byte("aa"))
	require.True(t, ok)
	require.Equal(t, []byte("111111"), entry.Value)

	entry, ok = m.Get([]byte("cc"))
	require.True(t, ok)
	require.True(t, entry.Tombstone)

	_, ok = m.Get([]byte("ab"))
	require.False(t, ok)
}

func TestSlice(t *testing.T) {
	t.Parallel()

	m := memtable.Build(1, 1, []memtable.Entry{
		{Key: []byte("aa"), Value: []byte("1")},
		{Key: []byte("bb"), Value: []byte("2")},
		{Key: []byte("cc"), Value: []byte("3")},
		{Key: []byte("dd"), Value: []byte("4")},
	}, nil)

	entries := m.Slice([]byte("b"), []byte("cc"))
	require.Len(t, entries, 2)
	require.Equal(t, []byte("bb"), entries[0].Key)
	require.Equal(t, []byte("cc"), entries[1].Key)

	require.Len(t, m.Slice(nil, nil), 4)
	require.Len(t, m.Slice([]byte("dd1"), nil), 0)
	require.Len(t, m.Slice(nil, []byte("a")), 0)
}

func TestReservation(t *testing.T) {
	t.Parallel()

	limiter := buffer.NewLimiter(1 << 20)
	ops := []memtable.Entry{{Key: []byte("aa"), Value: []byte("111")}}

	res := limiter.TryAcquire(memtable.Size(ops))
	require.NotNil(t, res)

	m := memtable.Build(1, 1, ops, res)
	require.Equal(t, limiter.Usage(), memtable.Size(ops))

	m.Release()
	require.EqualValues(t, 0, limiter.Usage())
}
