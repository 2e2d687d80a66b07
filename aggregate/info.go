package aggregate

import (
	"sync/atomic"

	"github.com/confluo-db/confluo/types"
)

// Info is a per-filter aggregate descriptor, matching aggregate_info.cc:
// {name, agg, field_idx, is_valid}. FieldIdx identifies the schema column
// the aggregate reads.
type Info struct {
	Name     string
	Agg      *Aggregator
	FieldIdx int
	ValID    types.ID
	valid    atomic.Bool
}

// NewInfo constructs a valid Info. valID is the primitive type of the
// aggregated column, used to produce the aggregator's zero value.
func NewInfo(name string, agg *Aggregator, fieldIdx int, valID types.ID) *Info {
	i := &Info{Name: name, Agg: agg, FieldIdx: fieldIdx, ValID: valID}
	i.valid.Store(true)
	return i
}

// Invalidate marks the aggregate inactive; matches aggregate_info's atomic
// invalidate(). Invalidation is permanent, mirroring filter removal being
// treated as logical invalidate per spec.md §9.
func (i *Info) Invalidate() { i.valid.Store(false) }

func (i *Info) IsValid() bool { return i.valid.Load() }

// SeqOp extracts the field at FieldIdx from a raw record using the schema
// snapshot's field offsets/types (fields here is the already-decoded slice
// of per-column Numerics for the record) and applies the aggregator's
// seq_op, matching aggregate_info.cc's schema-snapshot-extraction overload.
func (i *Info) SeqOp(acc types.Numeric, fields []types.Numeric) (types.Numeric, error) {
	return i.Agg.SeqOp(acc, fields[i.FieldIdx])
}
