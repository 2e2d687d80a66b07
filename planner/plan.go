// Package planner implements the query planner and record cursor pipeline
// of spec.md §4.9: for each minterm it intersects per-column key ranges
// implied by that minterm's predicates, picks the cheapest indexed column,
// and falls back to a full scan when no predicate touches an index.
// Grounded on libconfluo/src/planner/query_plan.cc.
package planner

import (
	"github.com/confluo-db/confluo/container/radix"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/parser"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/types"
)

// IndexSource resolves a column index to its radix tree and key-encoding
// parameters; the multilog package implements this over its index log.
type IndexSource interface {
	IndexFor(columnIdx int) (tree *radix.Tree, bucketSize float64, keyWidth int, ok bool)
}

// op is the tagged-variant replacement for the original's virtual dispatch
// over query operations, per spec.md §9's redesign note.
type op interface {
	cost(src IndexSource) uint64
	offsets(src IndexSource) ([]uint64, error)
}

type indexOp struct {
	columnIdx int
	kmin, kmax types.ByteString
}

func (o indexOp) cost(src IndexSource) uint64 {
	tree, _, _, ok := src.IndexFor(o.columnIdx)
	if !ok {
		return ^uint64(0)
	}
	return tree.ApproxCount(o.kmin, o.kmax)
}

func (o indexOp) offsets(src IndexSource) ([]uint64, error) {
	tree, _, _, ok := src.IndexFor(o.columnIdx)
	if !ok {
		return nil, errtype.New(errtype.InvalidOperation, "planner: column has no index")
	}
	var out []uint64
	for _, leaf := range tree.RangeLookupReflogs(o.kmin, o.kmax) {
		out = append(out, leaf.Reflog.All()...)
	}
	return out, nil
}

// fullScanOp streams every offset below the as-of version from the data
// log; the caller supplies the enumeration since only it knows record size.
type fullScanOp struct {
	allOffsets func() ([]uint64, error)
}

func (o fullScanOp) cost(IndexSource) uint64 { return ^uint64(0) } // always the most expensive, by construction
func (o fullScanOp) offsets(IndexSource) ([]uint64, error) { return o.allOffsets() }

// Plan is a compiled, planned query: one op per minterm of the original
// expression, plus the full expression for re-testing.
type Plan struct {
	expr *parser.CompiledExpr
	ops  []op
}

// Build chooses, for every minterm in expr, the cheapest indexed column's
// index_op, or falls back to a single full_scan_op for the whole query if
// any minterm has no indexed predicate, or if no minterm yields an
// index_op. allOffsets enumerates every
// currently-visible data log offset, for the full-scan fallback.
func Build(expr *parser.CompiledExpr, sc *schema.Schema, src IndexSource, allOffsets func() ([]uint64, error)) *Plan {
	if len(expr.Minterms) == 0 {
		return &Plan{expr: expr, ops: []op{fullScanOp{allOffsets: allOffsets}}}
	}
	var ops []op
	anyIndexed := false
	for _, m := range expr.Minterms {
		o, ok := planMinterm(m, sc, src)
		if !ok {
			continue // empty intersected range: minterm can never match
		}
		if o == nil {
			// No indexed predicate in this minterm: only a full scan covers it.
			return &Plan{expr: expr, ops: []op{fullScanOp{allOffsets: allOffsets}}}
		}
		ops = append(ops, o)
		anyIndexed = true
	}
	if !anyIndexed {
		return &Plan{expr: expr, ops: []op{fullScanOp{allOffsets: allOffsets}}}
	}
	return &Plan{expr: expr, ops: ops}
}

// planMinterm returns (op, true) if a usable index_op was found, (nil,
// true) if the minterm has no indexable predicate (caller should full-scan),
// or (nil, false) if the minterm's intersected range is empty and it can be
// dropped entirely.
func planMinterm(m parser.Minterm, sc *schema.Schema, src IndexSource) (op, bool) {
	type rng struct{ lo, hi types.ByteString }
	ranges := map[int]*rng{}
	for _, p := range m {
		if p.Op == types.Ne {
			continue // != is unindexable on a column, per spec.md §4.9
		}
		col := sc.Columns()[p.ColumnIdx]
		handle, ok := col.IndexHandle()
		if !ok || !col.IsIndexed() {
			continue
		}
		key := types.KeyTransform(p.Value, handle.BucketSize, handle.KeyWidth)
		var lo, hi types.ByteString
		switch p.Op {
		case types.Eq:
			lo, hi = key, key
		case types.Lt:
			lo, hi = types.MinKey(handle.KeyWidth), types.Dec(key)
		case types.Le:
			lo, hi = types.MinKey(handle.KeyWidth), key
		case types.Gt:
			lo, hi = types.Inc(key), types.MaxKey(handle.KeyWidth)
		case types.Ge:
			lo, hi = key, types.MaxKey(handle.KeyWidth)
		}
		if existing, ok := ranges[p.ColumnIdx]; ok {
			if types.CompareBytes(lo, existing.lo) > 0 {
				existing.lo = lo
			}
			if types.CompareBytes(hi, existing.hi) < 0 {
				existing.hi = hi
			}
		} else {
			ranges[p.ColumnIdx] = &rng{lo: lo, hi: hi}
		}
	}
	if len(ranges) == 0 {
		return nil, true
	}
	var bestCol = -1
	var bestCount uint64
	var bestRange *rng
	for colIdx, r := range ranges {
		if types.CompareBytes(r.lo, r.hi) > 0 {
			return nil, false // empty intersected range: minterm dropped
		}
		tree, _, _, ok := src.IndexFor(colIdx)
		if !ok {
			continue
		}
		count := tree.ApproxCount(r.lo, r.hi)
		if bestCol == -1 || count < bestCount {
			bestCol, bestCount, bestRange = colIdx, count, r
		}
	}
	if bestCol == -1 {
		return nil, true
	}
	return indexOp{columnIdx: bestCol, kmin: bestRange.lo, kmax: bestRange.hi}, true
}

// RecordLoader loads a record's field values at a given offset, as of the
// query's as-of version.
type RecordLoader interface {
	LoadFields(offset uint64) ([]types.Numeric, error)
}

// Execute streams matching offsets: offsets from every op are unioned and
// deduped, each candidate record is loaded and the whole expression is
// re-tested before it is yielded, per spec.md §4.9's execution contract.
func (p *Plan) Execute(src IndexSource, loader RecordLoader) ([]uint64, error) {
	seen := make(map[uint64]struct{})
	var union []uint64
	for _, o := range p.ops {
		offs, err := o.offsets(src)
		if err != nil {
			return nil, err
		}
		for _, off := range offs {
			if _, dup := seen[off]; dup {
				continue
			}
			seen[off] = struct{}{}
			union = append(union, off)
		}
	}
	var out []uint64
	for _, off := range union {
		fields, err := loader.LoadFields(off)
		if err != nil {
			return nil, err
		}
		ok, err := p.expr.Test(fields)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, off)
		}
	}
	return out, nil
}
