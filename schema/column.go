// Package schema implements the column/schema/record/record-batch model of
// spec.md §3/§4.6's ingest path, grounded on
// libconfluo/src/schema/{schema,column,record,record_batch,index_state}.cc.
package schema

import (
	"strings"
	"sync/atomic"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/types"
)

// IndexState is the column index lifecycle of spec.md §3: UNINDEXED ->
// INDEXING -> INDEXED -> UNINDEXED, monotone except the last step which is
// idempotent. Grounded on index_state.cc's CAS-guarded transitions.
type IndexState int32

const (
	Unindexed IndexState = iota
	Indexing
	Indexed
)

type indexState struct{ v atomic.Int32 }

func (s *indexState) Load() IndexState { return IndexState(s.v.Load()) }

// BeginIndexing transitions UNINDEXED -> INDEXING via CAS, matching
// index_state.cc; returns false if the column wasn't UNINDEXED.
func (s *indexState) BeginIndexing() bool {
	return s.v.CompareAndSwap(int32(Unindexed), int32(Indexing))
}

// SetIndexed unconditionally stores INDEXED, matching index_state.cc's
// unconditional ->INDEXED store once the index has finished building.
func (s *indexState) SetIndexed() { s.v.Store(int32(Indexed)) }

// EndIndexing transitions INDEXED -> UNINDEXED via CAS; idempotent per
// spec.md §3 (calling it when already UNINDEXED is a harmless no-op, unlike
// the UNINDEXED->INDEXING step, which is not).
func (s *indexState) EndIndexing() bool {
	if s.Load() == Unindexed {
		return true
	}
	return s.v.CompareAndSwap(int32(Indexed), int32(Unindexed))
}

// IndexHandle describes an index attached to a column: its bucket size (for
// numeric key quantization, spec.md §4.3) and key byte width.
type IndexHandle struct {
	BucketSize float64
	KeyWidth   int
}

// Column is a schema position: type, byte offset, display name, and an
// optional index handle with lifecycle state. Immutable after table
// creation except for the index state transition, per spec.md §3.
type Column struct {
	Idx      int
	Offset   int
	Type     types.ID
	StrWidth int // only meaningful when Type == types.String
	name     string
	index    *IndexHandle
	state    indexState
}

func NewColumn(idx, offset int, id types.ID, strWidth int, name string) *Column {
	return &Column{Idx: idx, Offset: offset, Type: id, StrWidth: strWidth, name: strings.ToUpper(name)}
}

// Name returns the column's case-insensitive display name, stored
// upper-cased per schema.cc's case-insensitive lookup.
func (c *Column) Name() string { return c.name }

func (c *Column) Size() int { return c.Type.Size(c.StrWidth) }

func (c *Column) IsIndexed() bool { return c.index != nil && c.state.Load() == Indexed }

func (c *Column) IndexState() IndexState { return c.state.Load() }

func (c *Column) IndexHandle() (*IndexHandle, bool) { return c.index, c.index != nil }

// AttachIndex installs an index handle and begins the UNINDEXED->INDEXING
// transition; fails with IllegalState if a build is already in progress.
func (c *Column) AttachIndex(bucketSize float64, keyWidth int) error {
	if !c.state.BeginIndexing() {
		return errtype.New(errtype.IllegalState, "column "+c.name+": index already building or present")
	}
	c.index = &IndexHandle{BucketSize: bucketSize, KeyWidth: keyWidth}
	return nil
}

// MarkIndexed completes a pending index build.
func (c *Column) MarkIndexed() { c.state.SetIndexed() }

// RemoveIndex transitions INDEXED->UNINDEXED and drops the handle.
func (c *Column) RemoveIndex() {
	c.state.EndIndexing()
	c.index = nil
}

// ExtractNumeric reads this column's field out of a raw record buffer and
// returns it as a typed Numeric, per the predicate evaluator's field read
// (spec.md §4.4).
func (c *Column) ExtractNumeric(record []byte) types.Numeric {
	buf := record[c.Offset : c.Offset+c.Size()]
	switch c.Type {
	case types.Bool:
		return types.FromBool(buf[0] != 0)
	case types.Char, types.UChar:
		return types.FromUint64(c.Type, uint64(buf[0]))
	case types.Short, types.UShort:
		v := uint64(buf[0]) | uint64(buf[1])<<8
		return types.FromUint64(c.Type, v)
	case types.Int, types.UInt:
		var v uint64
		for i := 0; i < 4; i++ {
			v |= uint64(buf[i]) << (8 * i)
		}
		return types.FromUint64(c.Type, v)
	case types.Long, types.ULong:
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(buf[i]) << (8 * i)
		}
		return types.FromUint64(c.Type, v)
	case types.Float:
		var v uint64
		for i := 0; i < 4; i++ {
			v |= uint64(buf[i]) << (8 * i)
		}
		return types.FromUint64(types.Float, v)
	case types.Double:
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(buf[i]) << (8 * i)
		}
		return types.FromUint64(types.Double, v)
	case types.String:
		end := 0
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		return types.FromString(string(buf[:end]))
	default:
		return types.Numeric{}
	}
}

// WriteNumeric encodes n into record at this column's offset.
func (c *Column) WriteNumeric(record []byte, n types.Numeric) {
	buf := record[c.Offset : c.Offset+c.Size()]
	switch c.Type {
	case types.Bool, types.Char, types.UChar:
		buf[0] = byte(n.AsUint64())
	case types.Short, types.UShort:
		v := n.AsUint64()
		buf[0], buf[1] = byte(v), byte(v>>8)
	case types.Int, types.UInt, types.Float:
		v := n.AsUint64()
		for i := 0; i < 4; i++ {
			buf[i] = byte(v >> (8 * i))
		}
	case types.Long, types.ULong, types.Double:
		v := n.AsUint64()
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
	case types.String:
		copy(buf, n.AsString())
	}
}
