package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/container/radix"
	"github.com/confluo-db/confluo/parser"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/types"
)

const keyWidth = 8

// fakeIndexSource provides a single indexed column backed by a real radix
// tree, mirroring how multilog.Multilog implements IndexFor over its index
// log in production.
type fakeIndexSource struct {
	trees map[int]*radix.Tree
}

func (f *fakeIndexSource) IndexFor(columnIdx int) (*radix.Tree, float64, int, bool) {
	t, ok := f.trees[columnIdx]
	return t, 1, keyWidth, ok
}

// fakeLoader resolves offsets to pre-decoded field rows, standing in for
// multilog.Multilog.LoadFields.
type fakeLoader struct {
	rows map[uint64][]types.Numeric
}

func (f *fakeLoader) LoadFields(offset uint64) ([]types.Numeric, error) {
	return f.rows[offset], nil
}

func planTestSchemaAndIndex(t *testing.T) (*schema.Schema, *fakeIndexSource) {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddColumn("a", types.Int, 0))
	sc, err := b.Build()
	require.NoError(t, err)

	col, err := sc.ColumnByName("a")
	require.NoError(t, err)
	require.NoError(t, col.AttachIndex(1, keyWidth))
	col.MarkIndexed()

	tree := radix.NewTree(keyWidth, nil, 4)
	src := &fakeIndexSource{trees: map[int]*radix.Tree{col.Idx: tree}}
	return sc, src
}

func TestPlanUsesIndexWhenPredicateIsIndexed(t *testing.T) {
	require := require.New(t)
	sc, src := planTestSchemaAndIndex(t)
	col, err := sc.ColumnByName("a")
	require.NoError(err)

	tree := src.trees[col.Idx]
	key10 := types.KeyTransform(types.FromInt64(types.Int, 10), 1, keyWidth)
	tree.Insert(key10, 42)

	expr, err := parser.Compile("a == 10", sc)
	require.NoError(err)

	plan := Build(expr, sc, src, func() ([]uint64, error) { return nil, nil })

	loader := &fakeLoader{rows: map[uint64][]types.Numeric{
		42: {types.Zero(types.ULong), types.FromInt64(types.Int, 10)},
	}}
	offs, err := plan.Execute(src, loader)
	require.NoError(err)
	require.Equal([]uint64{42}, offs)
}

func TestPlanFallsBackToFullScanWhenUnindexed(t *testing.T) {
	require := require.New(t)
	b := schema.NewBuilder()
	require.NoError(t, b.AddColumn("a", types.Int, 0))
	sc, err := b.Build()
	require.NoError(t, err)
	src := &fakeIndexSource{trees: map[int]*radix.Tree{}}

	expr, err := parser.Compile("a == 10", sc)
	require.NoError(err)

	plan := Build(expr, sc, src, func() ([]uint64, error) { return []uint64{1, 2, 3}, nil })

	loader := &fakeLoader{rows: map[uint64][]types.Numeric{
		1: {types.Zero(types.ULong), types.FromInt64(types.Int, 10)},
		2: {types.Zero(types.ULong), types.FromInt64(types.Int, 99)},
		3: {types.Zero(types.ULong), types.FromInt64(types.Int, 10)},
	}}
	offs, err := plan.Execute(src, loader)
	require.NoError(err)
	require.ElementsMatch([]uint64{1, 3}, offs)
}

func TestPlanRangePredicateNarrowsViaIndex(t *testing.T) {
	require := require.New(t)
	sc, src := planTestSchemaAndIndex(t)
	col, err := sc.ColumnByName("a")
	require.NoError(err)
	tree := src.trees[col.Idx]

	for _, v := range []int64{1, 5, 10, 20} {
		key := types.KeyTransform(types.FromInt64(types.Int, v), 1, keyWidth)
		tree.Insert(key, uint64(v))
	}

	expr, err := parser.Compile("a >= 5 && a <= 10", sc)
	require.NoError(err)
	plan := Build(expr, sc, src, func() ([]uint64, error) { return nil, nil })

	loader := &fakeLoader{rows: map[uint64][]types.Numeric{
		1:  {types.Zero(types.ULong), types.FromInt64(types.Int, 1)},
		5:  {types.Zero(types.ULong), types.FromInt64(types.Int, 5)},
		10: {types.Zero(types.ULong), types.FromInt64(types.Int, 10)},
		20: {types.Zero(types.ULong), types.FromInt64(types.Int, 20)},
	}}
	offs, err := plan.Execute(src, loader)
	require.NoError(err)
	require.ElementsMatch([]uint64{5, 10}, offs)
}
