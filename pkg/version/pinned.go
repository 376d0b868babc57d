// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package version

import (
	"storj.io/lsmstore/pkg/epochs"
)

// Pinned is an immutable snapshot of a committed version, shared by
// pointer between the event loop and the readers. The loop replaces it
// with a newer pin; readers never mutate it.
type Pinned struct {
	version *Version
}

// NewPinned pins a version.
func NewPinned(v *Version) Pinned {
	return Pinned{version: v}
}

// NewPin replaces the pin with a strictly newer version. Pinning an
// older or equal version returns the current pin unchanged.
func (p Pinned) NewPin(v *Version) Pinned {
	if v.ID <= p.version.ID {
		return p
	}
	return Pinned{version: v}
}

// Valid reports whether the pin holds a version.
func (p Pinned) Valid() bool { return p.version != nil }

// ID returns the pinned version id.
func (p Pinned) ID() uint64 { return p.version.ID }

// MaxCommittedEpoch returns the largest committed epoch of the pin.
func (p Pinned) MaxCommittedEpoch() epochs.Epoch { return p.version.MaxCommittedEpoch }

// Version returns the pinned version. Callers must treat it as read-only.
func (p Pinned) Version() *Version { return p.version }
