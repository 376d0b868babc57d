// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package version_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
	"storj.io/lsmstore/private/objectstore"
)

func file(id uint64, smallest, largest string) sstable.Info {
	return sstable.Info{
		ID: objectstore.FileID(id),
		Range: keys.Range{
			Smallest: keys.Encode(1, []byte(smallest)),
			Largest:  keys.Encode(1, []byte(largest)),
		},
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	base := version.Empty()
	next := base.Apply(&version.Delta{
		PrevID:            base.ID,
		NewID:             base.ID + 1,
		MaxCommittedEpoch: 1,
		Groups: map[version.GroupID]version.GroupDelta{
			version.DefaultGroup: {AddedFiles: []sstable.Info{file(10, "aa", "ee")}},
		},
	})
	require.Equal(t, base.ID+1, next.ID)
	require.EqualValues(t, 1, next.MaxCommittedEpoch)
	require.Len(t, next.Groups[version.DefaultGroup].Files, 1)

	// the base version is untouched
	require.Len(t, base.Groups[version.DefaultGroup].Files, 0)

	// newer files come first
	third := next.Apply(&version.Delta{
		PrevID:            next.ID,
		NewID:             next.ID + 1,
		MaxCommittedEpoch: 2,
		Groups: map[version.GroupID]version.GroupDelta{
			version.DefaultGroup: {AddedFiles: []sstable.Info{file(11, "bb", "cc")}},
		},
	})
	files := third.Groups[version.DefaultGroup].Files
	require.Len(t, files, 2)
	require.Equal(t, objectstore.FileID(11), files[0].ID)

	// removal by compaction
	fourth := third.Apply(&version.Delta{
		PrevID: third.ID,
		NewID:  third.ID + 1,
		Groups: map[version.GroupID]version.GroupDelta{
			version.DefaultGroup: {
				AddedFiles:     []sstable.Info{file(12, "aa", "ee")},
				RemovedFileIDs: []objectstore.FileID{10, 11},
			},
		},
	})
	files = fourth.Groups[version.DefaultGroup].Files
	require.Len(t, files, 1)
	require.Equal(t, objectstore.FileID(12), files[0].ID)
	// committed epoch never moves backwards
	require.EqualValues(t, 2, fourth.MaxCommittedEpoch)
}

func TestApplyMismatchPanics(t *testing.T) {
	t.Parallel()

	base := version.Empty()
	require.Panics(t, func() {
		base.Apply(&version.Delta{PrevID: base.ID + 5, NewID: base.ID + 6})
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := version.Empty()
	ok.Groups[version.DefaultGroup].Files = []sstable.Info{file(1, "aa", "bb")}
	require.NotPanics(t, func() { version.Validate(ok) })

	bad := version.Empty()
	bad.Groups[version.DefaultGroup].Files = []sstable.Info{file(2, "zz", "aa")}
	require.Panics(t, func() { version.Validate(bad) })
}

func TestPinned(t *testing.T) {
	t.Parallel()

	base := version.Empty()
	pin := version.NewPinned(base)
	require.Equal(t, base.ID, pin.ID())

	newer := base.Clone()
	newer.ID = base.ID + 1
	pin2 := pin.NewPin(newer)
	require.Equal(t, newer.ID, pin2.ID())

	// pinning an older version keeps the current pin
	require.Equal(t, newer.ID, pin2.NewPin(base).ID())
}

func TestGroupFor(t *testing.T) {
	t.Parallel()

	v := version.Empty()
	v.TableGroups = map[keys.TableID]version.GroupID{7: 3}
	require.Equal(t, version.GroupID(3), v.GroupFor(7))
	require.Equal(t, version.DefaultGroup, v.GroupFor(8))
}
