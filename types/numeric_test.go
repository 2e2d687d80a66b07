package types

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompare(t *testing.T) {
	require := require.New(t)

	t.Run("promotes across int widths", func(t *testing.T) {
		a := FromInt64(Int, 5)
		b := FromInt64(Long, 5)
		ok, err := Compare(Eq, a, b)
		require.NoError(err)
		require.True(ok)
	})

	t.Run("unsigned comparison never sign-extends", func(t *testing.T) {
		a := FromUint64(ULong, 1)
		b := FromUint64(ULong, 0)
		ok, err := Compare(Gt, a, b)
		require.NoError(err)
		require.True(ok)
	})

	t.Run("string vs numeric is a cast error", func(t *testing.T) {
		_, err := Compare(Eq, FromString("x"), FromInt64(Int, 1))
		require.Error(err)
	})
}

func TestBinaryAggregateOps(t *testing.T) {
	require := require.New(t)
	sum, err := Binary(Add, FromInt64(Long, 3), FromInt64(Long, 4))
	require.NoError(err)
	require.Equal(int64(7), sum.AsInt64())

	max, err := Binary(Max, FromFloat64(1.5), FromFloat64(2.5))
	require.NoError(err)
	require.Equal(2.5, max.AsFloat64())
}

func TestParseLiteralHex(t *testing.T) {
	require := require.New(t)
	n, err := ParseLiteral(ULong, "0xFF")
	require.NoError(err)
	require.Equal(uint64(255), n.AsUint64())
}

func TestComparePropertyConsistentWithPromotedInt64(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(-1000, 1000).Draw(t, "a")
		b := rapid.Int64Range(-1000, 1000).Draw(t, "b")
		na := FromInt64(Long, a)
		nb := FromInt64(Long, b)
		lt, err := Compare(Lt, na, nb)
		if err != nil {
			t.Fatal(err)
		}
		if lt != (a < b) {
			t.Fatalf("Compare(Lt, %d, %d) = %v, want %v", a, b, lt, a < b)
		}
	})
}
