package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/types"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddColumn("a", types.Int, 0))
	require.NoError(t, b.AddColumn("b", types.Int, 0))
	sc, err := b.Build()
	require.NoError(t, err)
	return sc
}

func TestCompileSimplePredicate(t *testing.T) {
	require := require.New(t)
	sc := testSchema(t)
	ce, err := Compile("a > 5", sc)
	require.NoError(err)
	require.Len(ce.Minterms, 1)
	require.Len(ce.Minterms[0], 1)
}

func TestCompileDistributesOrOverAnd(t *testing.T) {
	require := require.New(t)
	sc := testSchema(t)
	// (a > 5 && b < 2) || a == 0 should yield 2 minterms.
	ce, err := Compile(`a > 5 && b < 2 || a == 0`, sc)
	require.NoError(err)
	require.Len(ce.Minterms, 2)
}

func TestCompilePushesNegationToLeaves(t *testing.T) {
	require := require.New(t)
	sc := testSchema(t)
	ce, err := Compile(`!(a > 5)`, sc)
	require.NoError(err)
	require.Len(ce.Minterms, 1)
	require.Equal(types.Le, ce.Minterms[0][0].Op)
}

func TestEvalTestMatchesPredicate(t *testing.T) {
	require := require.New(t)
	sc := testSchema(t)
	ce, err := Compile("a > 5 && b == 2", sc)
	require.NoError(err)

	ok, err := ce.Test([]types.Numeric{types.Zero(types.ULong), types.FromInt64(types.Int, 10), types.FromInt64(types.Int, 2)})
	require.NoError(err)
	require.True(ok)

	ok, err = ce.Test([]types.Numeric{types.Zero(types.ULong), types.FromInt64(types.Int, 1), types.FromInt64(types.Int, 2)})
	require.NoError(err)
	require.False(ok)
}

func TestCompileCanonicalizesDuplicateMinterms(t *testing.T) {
	require := require.New(t)
	sc := testSchema(t)
	// a == 1 || a == 1 collapses to a single minterm.
	ce, err := Compile(`a == 1 || a == 1`, sc)
	require.NoError(err)
	require.Len(ce.Minterms, 1)
}
