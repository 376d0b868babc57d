// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package version models the globally committed view of the store: which
// sorted files belong to which compaction group at which committed epoch.
package version

import (
	"github.com/zeebo/errs"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/private/objectstore"
)

// Error is the default version errs class.
var Error = errs.Class("version error")

// ErrDeltaMismatch is fatal: a delta did not chain onto the current
// version and the in-process state can no longer be trusted.
var ErrDeltaMismatch = errs.Class("version delta mismatch")

// ErrKeyRangeInvalid is fatal: a committed file carries a corrupt key range.
var ErrKeyRangeInvalid = errs.Class("key range invalid")

// GroupID identifies a compaction group, a partition of the key space.
type GroupID uint64

// DefaultGroup is where tables live unless the index says otherwise.
const DefaultGroup GroupID = 0

// Group holds the committed sorted files of one compaction group,
// newest first.
type Group struct {
	Files []sstable.Info
}

// Version is one committed state of the store.
type Version struct {
	ID                uint64
	MaxCommittedEpoch epochs.Epoch
	Groups            map[GroupID]*Group
	// TableGroups is the compaction group index; tables without an
	// entry belong to DefaultGroup.
	TableGroups map[keys.TableID]GroupID
}

// Empty returns the initial version.
func Empty() *Version {
	return &Version{
		ID:     1,
		Groups: map[GroupID]*Group{DefaultGroup: {}},
	}
}

// GroupFor returns the compaction group of a table.
func (v *Version) GroupFor(table keys.TableID) GroupID {
	if group, ok := v.TableGroups[table]; ok {
		return group
	}
	return DefaultGroup
}

// Clone returns a copy that shares file metadata but owns its maps and
// slices, so applying deltas never mutates a published version.
func (v *Version) Clone() *Version {
	groups := make(map[GroupID]*Group, len(v.Groups))
	for id, group := range v.Groups {
		files := make([]sstable.Info, len(group.Files))
		copy(files, group.Files)
		groups[id] = &Group{Files: files}
	}
	tableGroups := make(map[keys.TableID]GroupID, len(v.TableGroups))
	for table, group := range v.TableGroups {
		tableGroups[table] = group
	}
	return &Version{
		ID:                v.ID,
		MaxCommittedEpoch: v.MaxCommittedEpoch,
		Groups:            groups,
		TableGroups:       tableGroups,
	}
}

// GroupDelta describes the file changes of one compaction group.
type GroupDelta struct {
	AddedFiles     []sstable.Info
	RemovedFileIDs []objectstore.FileID
}

// Delta is an incremental change from one version to the next.
type Delta struct {
	PrevID            uint64
	NewID             uint64
	MaxCommittedEpoch epochs.Epoch
	Groups            map[GroupID]GroupDelta
}

// Apply chains a delta onto the version and returns the result. It
// panics when the delta does not chain onto this exact version; the
// handler state is no longer trustworthy then.
func (v *Version) Apply(delta *Delta) *Version {
	if delta.PrevID != v.ID {
		panic(ErrDeltaMismatch.New("delta chains onto %d, version is %d", delta.PrevID, v.ID))
	}
	next := v.Clone()
	next.ID = delta.NewID
	if delta.MaxCommittedEpoch > next.MaxCommittedEpoch {
		next.MaxCommittedEpoch = delta.MaxCommittedEpoch
	}
	for groupID, groupDelta := range delta.Groups {
		group := next.Groups[groupID]
		if group == nil {
			group = &Group{}
			next.Groups[groupID] = group
		}
		if len(groupDelta.RemovedFileIDs) > 0 {
			removed := make(map[objectstore.FileID]bool, len(groupDelta.RemovedFileIDs))
			for _, id := range groupDelta.RemovedFileIDs {
				removed[id] = true
			}
			kept := group.Files[:0]
			for _, file := range group.Files {
				if !removed[file.ID] {
					kept = append(kept, file)
				}
			}
			group.Files = kept
		}
		// added files are newer than everything committed before
		group.Files = append(append([]sstable.Info(nil), groupDelta.AddedFiles...), group.Files...)
	}
	return next
}

// Validate panics when any committed file carries a corrupt key range.
func Validate(v *Version) {
	for groupID, group := range v.Groups {
		for _, file := range group.Files {
			if file.Range.Smallest == nil || file.Range.Largest == nil ||
				keys.Compare(file.Range.Smallest, file.Range.Largest) > 0 {
				panic(ErrKeyRangeInvalid.New("group %d file %v", groupID, file.ID))
			}
		}
	}
}

// Payload is a version update: either a full version or a chain of
// deltas to apply onto the current one.
type Payload struct {
	Pinned *Version
	Deltas []*Delta
}
