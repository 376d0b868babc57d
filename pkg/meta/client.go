// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package meta talks to the central metadata service that assigns
// versions, epochs and file ids.
package meta

import (
	"context"

	"github.com/zeebo/errs"

	"storj.io/lsmstore/pkg/version"
	"storj.io/lsmstore/private/objectstore"
)

// Error is the default meta errs class.
var Error = errs.Class("meta error")

// ErrUnavailable is returned when the metadata service cannot be reached.
var ErrUnavailable = errs.Class("meta service unavailable")

// Client is the metadata service surface the store consumes.
type Client interface {
	// PinVersion returns the latest committed version and pins it for
	// this node.
	PinVersion(ctx context.Context) (*version.Version, error)
	// UnpinVersionBefore tells the service that versions before id are
	// no longer read by this node.
	UnpinVersionBefore(ctx context.Context, id uint64) error
	// ReportCompactionTask acknowledges a finished compaction task.
	ReportCompactionTask(ctx context.Context, taskID uint64, success bool) error
	// AllocateFileIDs reserves count consecutive file ids and returns
	// the first.
	AllocateFileIDs(ctx context.Context, count int) (objectstore.FileID, error)
}
