// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sstable

import (
	"encoding/binary"
	"sort"

	"storj.io/lsmstore/pkg/bloomfilter"
	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/keys"
)

// Reader decodes a sorted file held fully in memory.
type Reader struct {
	data   []byte
	index  []indexEntry
	bloom  *bloomfilter.Filter
	erange [2]epochs.Epoch
	count  int
}

// NewReader parses the file contents.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < footerSize {
		return nil, ErrDecode.New("file too small: %d bytes", len(data))
	}
	footer := data[len(data)-footerSize:]
	indexOffset := binary.LittleEndian.Uint64(footer[0:])
	indexLength := binary.LittleEndian.Uint64(footer[8:])
	bloomOffset := binary.LittleEndian.Uint64(footer[16:])
	bloomLength := binary.LittleEndian.Uint64(footer[24:])
	entryCount := binary.LittleEndian.Uint64(footer[32:])
	if binary.LittleEndian.Uint64(footer[40:]) != magic {
		return nil, ErrDecode.New("bad magic")
	}
	if indexOffset+indexLength > uint64(len(data)) ||
		bloomOffset+bloomLength > uint64(len(data)) {
		return nil, ErrDecode.New("sections out of range")
	}

	reader := &Reader{
		data:  data,
		bloom: bloomfilter.Parse(data[bloomOffset : bloomOffset+bloomLength]),
		count: int(entryCount),
	}
	if err := reader.parseIndex(data[indexOffset : indexOffset+indexLength]); err != nil {
		return nil, err
	}
	return reader, nil
}

func (r *Reader) parseIndex(data []byte) error {
	pos := 0
	next := func() (uint64, bool) {
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return 0, false
		}
		pos += n
		return v, true
	}

	count, ok := next()
	if !ok {
		return ErrDecode.New("truncated index")
	}
	for i := uint64(0); i < count; i++ {
		keyLen, ok := next()
		if !ok || pos+int(keyLen) > len(data) {
			return ErrDecode.New("truncated index key")
		}
		lastKey := data[pos : pos+int(keyLen)]
		pos += int(keyLen)
		offset, ok := next()
		if !ok {
			return ErrDecode.New("truncated index offset")
		}
		length, ok := next()
		if !ok {
			return ErrDecode.New("truncated index length")
		}
		r.index = append(r.index, indexEntry{lastKey: lastKey, offset: offset, length: length})
	}
	return nil
}

// EntryCount returns the number of entries in the file.
func (r *Reader) EntryCount() int { return r.count }

// MayContain consults the bloom filter for a key.
func (r *Reader) MayContain(key []byte) bool { return r.bloom.Contains(key) }

// Get returns the newest entry for key with epoch ≤ maxEpoch.
func (r *Reader) Get(key []byte, maxEpoch epochs.Epoch) (Entry, bool, error) {
	// entries are sorted by (key asc, epoch desc); find the block that
	// may hold the key
	i := sort.Search(len(r.index), func(k int) bool {
		return keys.Compare(r.index[k].lastKey, key) >= 0
	})
	// a key with many epochs may straddle block boundaries
	for ; i < len(r.index); i++ {
		iter, err := r.blockIter(r.index[i])
		if err != nil {
			return Entry{}, false, err
		}
		for iter.Next() {
			cmp := keys.Compare(iter.Entry().Key, key)
			if cmp < 0 {
				continue
			}
			if cmp > 0 {
				return Entry{}, false, iter.Err()
			}
			if iter.Entry().Epoch <= maxEpoch {
				return iter.Entry(), true, nil
			}
		}
		if err := iter.Err(); err != nil {
			return Entry{}, false, err
		}
	}
	return Entry{}, false, nil
}

// Iter iterates all entries in file order.
func (r *Reader) Iter() *Iter {
	var blocks []indexEntry
	blocks = append(blocks, r.index...)
	return &Iter{reader: r, blocks: blocks}
}

func (r *Reader) blockIter(block indexEntry) (*blockIter, error) {
	if block.offset+block.length > uint64(len(r.data)) {
		return nil, ErrDecode.New("block out of range")
	}
	return &blockIter{data: r.data[block.offset : block.offset+block.length]}, nil
}

// blockIter decodes entries of one data block.
type blockIter struct {
	data  []byte
	pos   int
	entry Entry
	err   error
}

func (i *blockIter) Next() bool {
	if i.err != nil || i.pos >= len(i.data) {
		return false
	}
	next := func() (uint64, bool) {
		v, n := binary.Uvarint(i.data[i.pos:])
		if n <= 0 {
			i.err = ErrDecode.New("truncated entry")
			return 0, false
		}
		i.pos += n
		return v, true
	}

	keyLen, ok := next()
	if !ok || i.pos+int(keyLen) > len(i.data) {
		i.err = ErrDecode.New("truncated entry key")
		return false
	}
	i.entry.Key = i.data[i.pos : i.pos+int(keyLen)]
	i.pos += int(keyLen)

	epoch, ok := next()
	if !ok {
		return false
	}
	i.entry.Epoch = epochs.Epoch(epoch)

	if i.pos >= len(i.data) {
		i.err = ErrDecode.New("truncated entry kind")
		return false
	}
	i.entry.Kind = Kind(i.data[i.pos])
	i.pos++

	valLen, ok := next()
	if !ok || i.pos+int(valLen) > len(i.data) {
		i.err = ErrDecode.New("truncated entry value")
		return false
	}
	i.entry.Value = i.data[i.pos : i.pos+int(valLen)]
	i.pos += int(valLen)
	return true
}

func (i *blockIter) Entry() Entry { return i.entry }
func (i *blockIter) Err() error   { return i.err }

// Iter iterates a whole file across blocks.
type Iter struct {
	reader *Reader
	blocks []indexEntry
	block  *blockIter
	err    error
}

// Next advances to the next entry.
func (i *Iter) Next() bool {
	for {
		if i.err != nil {
			return false
		}
		if i.block != nil {
			if i.block.Next() {
				return true
			}
			if err := i.block.Err(); err != nil {
				i.err = err
				return false
			}
			i.block = nil
		}
		if len(i.blocks) == 0 {
			return false
		}
		block, err := i.reader.blockIter(i.blocks[0])
		i.blocks = i.blocks[1:]
		if err != nil {
			i.err = err
			return false
		}
		i.block = block
	}
}

// Entry returns the current entry. It is only valid until the next call
// to Next.
func (i *Iter) Entry() Entry { return i.block.entry }

// Err returns the first decoding error.
func (i *Iter) Err() error { return i.err }
