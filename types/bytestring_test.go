package types

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeyTransformOrderPreserving(t *testing.T) {
	require := require.New(t)

	t.Run("signed integers preserve order across zero", func(t *testing.T) {
		neg := KeyTransform(FromInt64(Int, -1), 0, 4)
		zero := KeyTransform(FromInt64(Int, 0), 0, 4)
		pos := KeyTransform(FromInt64(Int, 1), 0, 4)
		require.True(CompareBytes(neg, zero) < 0)
		require.True(CompareBytes(zero, pos) < 0)
	})

	t.Run("floats preserve order across zero and sign", func(t *testing.T) {
		neg := KeyTransform(FromFloat64(-2.5), 0, 8)
		zero := KeyTransform(FromFloat64(0), 0, 8)
		pos := KeyTransform(FromFloat64(2.5), 0, 8)
		require.True(CompareBytes(neg, zero) < 0)
		require.True(CompareBytes(zero, pos) < 0)
	})

	t.Run("strings are padded to width", func(t *testing.T) {
		key := KeyTransform(FromString("ab"), 0, 5)
		require.Len(key, 5)
	})
}

func TestIncDecRoundtrip(t *testing.T) {
	require := require.New(t)
	k := MaxKey(2)
	require.Equal(ByteString{0xFF, 0xFF}, k)
	d := Dec(k)
	require.Equal(ByteString{0xFF, 0xFE}, d)
	require.Equal(k, Inc(d))
}

func TestIncCarriesAcrossBytes(t *testing.T) {
	require := require.New(t)
	k := ByteString{0x00, 0xFF}
	require.Equal(ByteString{0x01, 0x00}, Inc(k))
}

func TestKeyTransformIntOrderMatchesNativeOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int32().Draw(t, "a")
		b := rapid.Int32().Draw(t, "b")
		ka := KeyTransform(FromInt64(Int, int64(a)), 0, 4)
		kb := KeyTransform(FromInt64(Int, int64(b)), 0, 4)
		cmp := CompareBytes(ka, kb)
		switch {
		case a < b:
			if cmp >= 0 {
				t.Fatalf("expected %d < %d to hold in key space", a, b)
			}
		case a > b:
			if cmp <= 0 {
				t.Fatalf("expected %d > %d to hold in key space", a, b)
			}
		default:
			if cmp != 0 {
				t.Fatalf("expected equal keys for equal values")
			}
		}
	})
}
