// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sstable implements the immutable sorted-file format that the
// shared buffer flushes into and the read path searches.
//
// File layout:
//
//	[data block]*  [index]  [bloom]  [footer]
//
// Data blocks hold entries sorted by (key ascending, epoch descending),
// each encoded as
//
//	uvarint(len(key)) key uvarint(epoch) kind uvarint(len(value)) value
//
// where key is the table-prefixed key. The index holds, per block, the
// last key plus the block's offset and length. The bloom section holds a
// serialized filter over all keys. The footer is fixed size and locates
// the index and bloom sections.
package sstable

import (
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
	"storj.io/lsmstore/private/objectstore"
)

var mon = monkit.Package()

// Error is the default sstable errs class.
var Error = errs.Class("sstable error")

// ErrDecode is returned when file contents fail to parse.
var ErrDecode = errs.Class("sstable decode error")

// Kind describes what an entry does to its key.
type Kind byte

// entry kinds
const (
	KindPut Kind = iota
	KindDelete
)

// Info is the metadata of one sorted file. It travels through sync
// results and version deltas; the file contents stay in the object store.
type Info struct {
	ID         objectstore.FileID
	Range      keys.Range
	MinEpoch   epochs.Epoch
	MaxEpoch   epochs.Epoch
	FileSize   int64
	EntryCount int
}

// OverlapsKey reports whether the file's key range may contain key.
func (info Info) OverlapsKey(key []byte) bool { return info.Range.Contains(key) }

// Entry is a decoded file entry.
type Entry struct {
	Key   []byte
	Epoch epochs.Epoch
	Kind  Kind
	Value []byte
}
