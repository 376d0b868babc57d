// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sstable

import (
	"bytes"
	"encoding/binary"

	"storj.io/lsmstore/pkg/bloomfilter"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
)

const (
	footerSize = 48
	magic      = 0x73746f726a737374

	// DefaultBlockSize is the target uncompressed size of a data block.
	DefaultBlockSize = 32 << 10
)

type indexEntry struct {
	lastKey []byte
	offset  uint64
	length  uint64
}

// Builder assembles a sorted file. Add must be called in
// (key ascending, epoch descending) order.
type Builder struct {
	blockSize int

	buf        bytes.Buffer
	blockStart int
	index      []indexEntry
	tmp        [binary.MaxVarintLen64]byte

	allKeys    [][]byte
	firstKey   []byte
	lastKey    []byte
	minEpoch   epochs.Epoch
	maxEpoch   epochs.Epoch
	entryCount int

	bloomFalsePositive float64
}

// NewBuilder creates a builder with the given block size and bloom
// false-positive target.
func NewBuilder(blockSize int, bloomFalsePositive float64) *Builder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Builder{
		blockSize:          blockSize,
		minEpoch:           epochs.Max,
		bloomFalsePositive: bloomFalsePositive,
	}
}

func (b *Builder) putUvarint(v uint64) {
	n := binary.PutUvarint(b.tmp[:], v)
	b.buf.Write(b.tmp[:n])
}

// Add appends one entry.
func (b *Builder) Add(entry Entry) {
	if b.firstKey == nil {
		b.firstKey = append([]byte(nil), entry.Key...)
	}
	b.lastKey = append(b.lastKey[:0], entry.Key...)

	b.putUvarint(uint64(len(entry.Key)))
	b.buf.Write(entry.Key)
	b.putUvarint(uint64(entry.Epoch))
	b.buf.WriteByte(byte(entry.Kind))
	b.putUvarint(uint64(len(entry.Value)))
	b.buf.Write(entry.Value)

	b.allKeys = append(b.allKeys, append([]byte(nil), entry.Key...))
	if entry.Epoch < b.minEpoch {
		b.minEpoch = entry.Epoch
	}
	if entry.Epoch > b.maxEpoch {
		b.maxEpoch = entry.Epoch
	}
	b.entryCount++

	if b.buf.Len()-b.blockStart >= b.blockSize {
		b.finishBlock()
	}
}

func (b *Builder) finishBlock() {
	if b.buf.Len() == b.blockStart {
		return
	}
	b.index = append(b.index, indexEntry{
		lastKey: append([]byte(nil), b.lastKey...),
		offset:  uint64(b.blockStart),
		length:  uint64(b.buf.Len() - b.blockStart),
	})
	b.blockStart = b.buf.Len()
}

// Empty reports whether nothing was added.
func (b *Builder) Empty() bool { return b.entryCount == 0 }

// Finish encodes the remaining sections and returns the file contents
// plus its metadata. The caller fills in the file id.
func (b *Builder) Finish() ([]byte, Info) {
	b.finishBlock()

	indexOffset := uint64(b.buf.Len())
	b.putUvarint(uint64(len(b.index)))
	for _, entry := range b.index {
		b.putUvarint(uint64(len(entry.lastKey)))
		b.buf.Write(entry.lastKey)
		b.putUvarint(entry.offset)
		b.putUvarint(entry.length)
	}
	indexLength := uint64(b.buf.Len()) - indexOffset

	filter := bloomfilter.NewFilter(len(b.allKeys), b.bloomFalsePositive)
	for _, key := range b.allKeys {
		filter.Add(key)
	}
	bloomOffset := uint64(b.buf.Len())
	bloomBytes := filter.Bytes()
	b.buf.Write(bloomBytes)

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:], indexLength)
	binary.LittleEndian.PutUint64(footer[16:], bloomOffset)
	binary.LittleEndian.PutUint64(footer[24:], uint64(len(bloomBytes)))
	binary.LittleEndian.PutUint64(footer[32:], uint64(b.entryCount))
	binary.LittleEndian.PutUint64(footer[40:], magic)
	b.buf.Write(footer[:])

	data := b.buf.Bytes()
	info := Info{
		Range:      keys.Range{Smallest: b.firstKey, Largest: append([]byte(nil), b.lastKey...)},
		MinEpoch:   b.minEpoch,
		MaxEpoch:   b.maxEpoch,
		FileSize:   int64(len(data)),
		EntryCount: b.entryCount,
	}
	return data, info
}
