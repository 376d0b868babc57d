// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package keys implements the table-prefixed key encoding shared by
// memtables and sorted files.
package keys

import (
	"bytes"
	"encoding/binary"
)

// TableID identifies a logical table.
type TableID uint32

// prefixLen is the size of the encoded table id at the front of every key.
const prefixLen = 4

// Encode prepends the table id to a user key.
func Encode(table TableID, userKey []byte) []byte {
	out := make([]byte, prefixLen+len(userKey))
	binary.BigEndian.PutUint32(out, uint32(table))
	copy(out[prefixLen:], userKey)
	return out
}

// Table extracts the table id from an encoded key.
func Table(key []byte) TableID {
	if len(key) < prefixLen {
		return 0
	}
	return TableID(binary.BigEndian.Uint32(key))
}

// UserKey strips the table prefix from an encoded key.
func UserKey(key []byte) []byte {
	if len(key) < prefixLen {
		return nil
	}
	return key[prefixLen:]
}

// Compare orders encoded keys lexicographically. The big-endian table
// prefix keeps tables contiguous.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// Range is an inclusive key range over encoded keys. A nil bound is
// unbounded on that side.
type Range struct {
	Smallest []byte
	Largest  []byte
}

// Contains reports whether key falls inside the range.
func (r Range) Contains(key []byte) bool {
	if r.Smallest != nil && Compare(key, r.Smallest) < 0 {
		return false
	}
	if r.Largest != nil && Compare(key, r.Largest) > 0 {
		return false
	}
	return true
}

// Overlaps reports whether the two ranges share any key.
func (r Range) Overlaps(other Range) bool {
	if r.Largest != nil && other.Smallest != nil && Compare(r.Largest, other.Smallest) < 0 {
		return false
	}
	if r.Smallest != nil && other.Largest != nil && Compare(other.Largest, r.Smallest) < 0 {
		return false
	}
	return true
}
