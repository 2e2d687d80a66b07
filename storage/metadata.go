// Package storage implements the allocation and swappable-pointer substrate
// of spec.md §4.2: every allocation carries a metadata header describing its
// storage mode and archival state, and mutable pointers to that allocation
// are replaced through a reader-counted swap protocol so archival never
// tears a concurrent reader's view.
//
// Grounded on libconfluo/src/storage/ptr_metadata.cc. The original addresses
// the header via a fixed negative offset from the user pointer; Go has no
// pointer arithmetic, so the header and payload are kept together in one
// Block value instead — same contract, different addressing mechanism.
package storage

import "github.com/confluo-db/confluo/conf"

// AllocType names where a Block's bytes live.
type AllocType uint8

const (
	AllocDefault AllocType = iota // heap-allocated
	AllocMmap                     // mmap-backed
)

// State names a Block's storage/archival state.
type State uint8

const (
	InMemory State = iota
	Archived
)

// Metadata is the header every allocation carries, matching
// ptr_metadata's fields (alloc_type, data_size, alloc_size, state, encoding).
type Metadata struct {
	AllocType AllocType
	DataSize  uint32
	AllocSize uint32
	State     State
	Encoding  conf.EncodingType
}

// Block pairs a Metadata header with its payload, standing in for the
// original's "header immediately before the user pointer" layout.
type Block struct {
	Meta Metadata
	Data []byte
}

// NewHeapBlock wraps data with an IN_MEMORY, default-allocation header.
func NewHeapBlock(data []byte) *Block {
	return &Block{
		Meta: Metadata{
			AllocType: AllocDefault,
			DataSize:  uint32(len(data)),
			AllocSize: uint32(len(data)),
			State:     InMemory,
			Encoding:  conf.EncodingIdentity,
		},
		Data: data,
	}
}

// NewArchivedBlock wraps mmap-backed, encoded bytes with an ARCHIVED header.
// dataSize is the decoded logical size; Data holds the still-encoded bytes.
func NewArchivedBlock(encoded []byte, dataSize int, enc conf.EncodingType) *Block {
	return &Block{
		Meta: Metadata{
			AllocType: AllocMmap,
			DataSize:  uint32(dataSize),
			AllocSize: uint32(len(encoded)),
			State:     Archived,
			Encoding:  enc,
		},
		Data: encoded,
	}
}
