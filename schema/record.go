package schema

import "github.com/confluo-db/confluo/types"

// Record is a published, contiguous record_size-byte buffer at a specific
// log offset, per spec.md §3: its version equals offset + record_size, and
// records are immutable once published.
type Record struct {
	Offset uint64
	Data   []byte
	schema *Schema
}

func NewRecord(offset uint64, data []byte, s *Schema) *Record {
	return &Record{Offset: offset, Data: data, schema: s}
}

// Version is offset + len(record), the version an aggregate/index update
// for this record is committed at.
func (r *Record) Version() uint64 { return r.Offset + uint64(len(r.Data)) }

// Timestamp returns the leading ULONG column's value.
func (r *Record) Timestamp() uint64 { return r.schema.TimeOf(r.Data) }

// Fields decodes every column's value, used by the predicate evaluator and
// aggregate extraction.
func (r *Record) Fields() []types.Numeric {
	cols := r.schema.Columns()
	out := make([]types.Numeric, len(cols))
	for i, c := range cols {
		out[i] = c.ExtractNumeric(r.Data)
	}
	return out
}
