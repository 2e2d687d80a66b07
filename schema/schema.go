package schema

import (
	"strings"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/types"
)

// Schema is the ordered sequence of columns of a table, per spec.md §3. The
// first column is always a ULONG timestamp, auto-injected by Builder.
type Schema struct {
	columns    []*Column
	recordSize int
	byName     map[string]int
}

// RecordSize returns the sum of column sizes.
func (s *Schema) RecordSize() int { return s.recordSize }

func (s *Schema) Columns() []*Column { return s.columns }

// ColumnByName performs a case-insensitive lookup, matching schema.cc's
// to_upper-based name resolution.
func (s *Schema) ColumnByName(name string) (*Column, error) {
	idx, ok := s.byName[strings.ToUpper(name)]
	if !ok {
		return nil, errtype.New(errtype.InvalidOperation, "unknown column "+name)
	}
	return s.columns[idx], nil
}

func (s *Schema) TimestampColumn() *Column { return s.columns[0] }

// Snapshot is an immutable copy of the schema's shape, safe to read
// concurrently with the only schema mutation the core allows (adding or
// removing an index on a column, never changing layout), per spec.md §3.
type Snapshot struct {
	Columns    []Column
	RecordSize int
}

func (s *Schema) Snapshot() Snapshot {
	cols := make([]Column, len(s.columns))
	for i, c := range s.columns {
		cols[i] = *c
	}
	return Snapshot{Columns: cols, RecordSize: s.recordSize}
}

// TimeOf reads the leading ULONG timestamp field out of a raw record.
func (s *Schema) TimeOf(record []byte) uint64 {
	return s.columns[0].ExtractNumeric(record).AsUint64()
}

// Builder constructs a Schema, auto-injecting the leading ULONG TIMESTAMP
// column and rejecting any user column literally named TIMESTAMP, since
// Build's duplicate-name check would reject it anyway once it collided
// with the auto-injected one. Matches schema_builder in schema.cc.
type Builder struct {
	columns []*Column
}

func NewBuilder() *Builder {
	b := &Builder{}
	b.columns = append(b.columns, NewColumn(0, 0, types.ULong, 0, "TIMESTAMP"))
	return b
}

// AddColumn appends a column of the given type (strWidth only meaningful
// for types.String).
func (b *Builder) AddColumn(name string, id types.ID, strWidth int) error {
	upper := strings.ToUpper(name)
	if upper == "TIMESTAMP" {
		return errtype.New(errtype.InvalidOperation, "TIMESTAMP is a reserved, auto-injected column")
	}
	offset := b.columns[len(b.columns)-1].Offset + b.columns[len(b.columns)-1].Size()
	b.columns = append(b.columns, NewColumn(len(b.columns), offset, id, strWidth, upper))
	return nil
}

func (b *Builder) Build() (*Schema, error) {
	byName := make(map[string]int, len(b.columns))
	size := 0
	for _, c := range b.columns {
		if _, dup := byName[c.Name()]; dup {
			return nil, errtype.New(errtype.InvalidOperation, "duplicate column "+c.Name())
		}
		byName[c.Name()] = c.Idx
		size += c.Size()
	}
	return &Schema{columns: b.columns, recordSize: size, byName: byName}, nil
}
