// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package bloomfilter implements a simple bloom filter over byte keys.
package bloomfilter

import (
	"encoding/binary"
	"math"
)

// Filter is a bloom filter. The zero value is not usable, use NewFilter
// or NewExplicit.
type Filter struct {
	hashCount byte
	bits      []byte
}

// NewFilter returns a filter sized for the number of expected elements
// and the target false positive probability.
func NewFilter(expectedElements int, falsePositiveProbability float64) *Filter {
	if expectedElements <= 0 {
		expectedElements = 1
	}
	// classic bloom filter sizing
	bitsPerElement := -1.44 * math.Log2(falsePositiveProbability)
	hashCount := math.Ceil(bitsPerElement * math.Ln2)
	if hashCount > 32 {
		hashCount = 32
	}
	sizeInBytes := int(math.Ceil(float64(expectedElements)*bitsPerElement/8)) + 1
	return NewExplicit(byte(hashCount), sizeInBytes)
}

// NewExplicit returns a filter with the given hash count and byte size.
func NewExplicit(hashCount byte, sizeInBytes int) *Filter {
	if hashCount == 0 {
		hashCount = 1
	}
	if sizeInBytes <= 0 {
		sizeInBytes = 1
	}
	return &Filter{
		hashCount: hashCount,
		bits:      make([]byte, sizeInBytes),
	}
}

// Parse reconstructs a filter from Bytes output.
func Parse(data []byte) *Filter {
	if len(data) < 2 {
		return NewExplicit(1, 1)
	}
	bits := make([]byte, len(data)-1)
	copy(bits, data[1:])
	return &Filter{hashCount: data[0], bits: bits}
}

// Bytes serializes the filter.
func (filter *Filter) Bytes() []byte {
	out := make([]byte, 1+len(filter.bits))
	out[0] = filter.hashCount
	copy(out[1:], filter.bits)
	return out
}

// Add adds a key to the filter.
func (filter *Filter) Add(key []byte) {
	h1, h2 := hashes(key)
	n := uint64(len(filter.bits)) * 8
	for k := byte(0); k < filter.hashCount; k++ {
		bit := (h1 + uint64(k)*h2) % n
		filter.bits[bit/8] |= 1 << (bit % 8)
	}
}

// Contains reports whether the key may have been added. False positives
// are possible, false negatives are not.
func (filter *Filter) Contains(key []byte) bool {
	h1, h2 := hashes(key)
	n := uint64(len(filter.bits)) * 8
	for k := byte(0); k < filter.hashCount; k++ {
		bit := (h1 + uint64(k)*h2) % n
		if filter.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// hashes derives two independent 64-bit hashes for double hashing.
func hashes(key []byte) (uint64, uint64) {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h1 := uint64(offset64)
	for _, b := range key {
		h1 ^= uint64(b)
		h1 *= prime64
	}
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], h1)
	h2 := uint64(offset64)
	for _, b := range seed {
		h2 ^= uint64(b)
		h2 *= prime64
	}
	h2 |= 1
	return h1, h2
}
