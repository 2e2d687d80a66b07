// Package monolog implements the lock-free, segmented, exponentially
// growing array described in spec.md §3/§4.1, in its two concrete shapes:
// Exp2 (used for reflogs and aggregate chains) and Linear (used for the data
// log). Grounded on libmonolog's monolog_exp2/monolog_linear split, adapted
// from C++ template parameterization to two concrete generic Go types per
// spec.md §9's "pick the two concrete shapes" redesign note.
package monolog

import (
	"math/bits"
	"sync/atomic"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/internal/atomicx"
)

const (
	// MinBits sets the first bucket's size to 2^MinBits elements.
	MinBits = 8
	// MaxBuckets bounds an Exp2's address space; 64-MinBits keeps every
	// bucket index representable and comfortably covers any real size.
	MaxBuckets = 64 - MinBits
)

// Exp2 is the exp2-layout monolog: the i-th bucket holds 2^(i+MinBits)
// elements, allocated lazily and CAS-raced so exactly one allocation wins.
type Exp2[T any] struct {
	tail    atomicx.Tail
	buckets [MaxBuckets]atomic.Pointer[[]T]
}

func NewExp2[T any]() *Exp2[T] { return &Exp2[T]{} }

// Size returns the number of reserved elements (spec.md §4.1: monotone
// non-decreasing).
func (m *Exp2[T]) Size() uint64 { return m.tail.Load() }

// Reserve reserves n contiguous slots via fetch-add on the tail and returns
// the starting offset.
func (m *Exp2[T]) Reserve(n uint64) uint64 { return m.tail.FetchAdd(n) }

// PushBack reserves one slot and writes v into it, returning the offset.
func (m *Exp2[T]) PushBack(v T) uint64 {
	off := m.Reserve(1)
	m.SetUnsafe(off, v)
	return off
}

// locate returns the bucket index and offset within that bucket for a
// global index, using the standard doubling-array decomposition: with
// pos = idx + firstBucketSize, the bucket holding idx is
// floor(log2(pos)) - MinBits, at offset pos - 2^(bucket+MinBits).
func locate(idx uint64) (bucket int, offset uint64) {
	const firstBucketSize = 1 << MinBits
	pos := idx + firstBucketSize
	msb := bits.Len64(pos) - 1
	bucket = msb - MinBits
	offset = pos - (uint64(1) << msb)
	return
}

func bucketSize(bucket int) uint64 { return uint64(1) << (bucket + MinBits) }

// SetUnsafe writes v at idx, lazily allocating the owning bucket if needed.
// The caller is responsible for ensuring idx was reserved; concurrent
// allocators of the same bucket race under CAS with exactly one winner.
func (m *Exp2[T]) SetUnsafe(idx uint64, v T) {
	bucket, offset := locate(idx)
	b := atomicx.LazyOnce(&m.buckets[bucket], func() *[]T {
		s := make([]T, bucketSize(bucket))
		return &s
	})
	(*b)[offset] = v
}

// Get returns the element at idx, or an InvalidAccess error if idx >= Size.
// An index below Size whose bucket has not been allocated yet (reserved but
// never written) returns the zero value and no error.
func (m *Exp2[T]) Get(idx uint64) (T, error) {
	var zero T
	if idx >= m.Size() {
		return zero, errtype.New(errtype.InvalidAccess, "monolog exp2: index out of range")
	}
	bucket, offset := locate(idx)
	b := m.buckets[bucket].Load()
	if b == nil {
		return zero, nil
	}
	return (*b)[offset], nil
}
