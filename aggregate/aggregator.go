// Package aggregate implements the aggregator registry, the versioned
// append-only aggregate chain, and the per-filter aggregate descriptor
// described in spec.md §3/§4.5/§4.6. Grounded on
// libconfluo/src/aggregate/{aggregate,aggregate_info,aggregate_ops}.cc.
package aggregate

import (
	"strings"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/types"
)

// Aggregator is the {zero, seq_op, comb_op} triple of spec.md §4.5.
type Aggregator struct {
	Name   string
	Zero   func(id types.ID) types.Numeric
	SeqOp  func(acc, val types.Numeric) (types.Numeric, error)
	CombOp func(a, b types.Numeric) (types.Numeric, error)
}

var registry = map[string]*Aggregator{}

func register(a *Aggregator) { registry[a.Name] = a }

func init() {
	register(&Aggregator{
		Name:   "sum",
		Zero:   func(id types.ID) types.Numeric { return types.Zero(id) },
		SeqOp:  func(acc, val types.Numeric) (types.Numeric, error) { return types.Binary(types.Add, acc, val) },
		CombOp: func(a, b types.Numeric) (types.Numeric, error) { return types.Binary(types.Add, a, b) },
	})
	register(&Aggregator{
		Name:   "min",
		Zero:   func(id types.ID) types.Numeric { return types.Zero(id) },
		SeqOp:  func(acc, val types.Numeric) (types.Numeric, error) { return types.Binary(types.Min, acc, val) },
		CombOp: func(a, b types.Numeric) (types.Numeric, error) { return types.Binary(types.Min, a, b) },
	})
	register(&Aggregator{
		Name:   "max",
		Zero:   func(id types.ID) types.Numeric { return types.Zero(id) },
		SeqOp:  func(acc, val types.Numeric) (types.Numeric, error) { return types.Binary(types.Max, acc, val) },
		CombOp: func(a, b types.Numeric) (types.Numeric, error) { return types.Binary(types.Max, a, b) },
	})
	register(&Aggregator{
		Name: "count",
		Zero: func(id types.ID) types.Numeric { return types.Zero(types.ULong) },
		SeqOp: func(acc, val types.Numeric) (types.Numeric, error) {
			return types.Binary(types.Add, acc, types.CountOne())
		},
		CombOp: func(a, b types.Numeric) (types.Numeric, error) { return types.Binary(types.Add, a, b) },
	})
}

// Find looks up an aggregator by name, case-insensitively, matching
// find_aggregator_id.
func Find(name string) (*Aggregator, error) {
	a, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errtype.New(errtype.InvalidOperation, "unknown aggregator "+name)
	}
	return a, nil
}
