package monolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExp2PushBackAndGet(t *testing.T) {
	require := require.New(t)
	m := NewExp2[uint64]()
	for i := uint64(0); i < 2000; i++ {
		m.PushBack(i * 7)
	}
	require.Equal(uint64(2000), m.Size())
	for i := uint64(0); i < 2000; i++ {
		v, err := m.Get(i)
		require.NoError(err)
		require.Equal(i*7, v)
	}
}

func TestExp2GetOutOfBoundsErrors(t *testing.T) {
	m := NewExp2[uint64]()
	m.PushBack(1)
	_, err := m.Get(5)
	require.Error(t, err)
}

func TestExp2BucketBoundaryAllocation(t *testing.T) {
	require := require.New(t)
	m := NewExp2[uint64]()
	// Cross several doubling-bucket boundaries; MinBits=8 means the first
	// bucket holds 256 elements, the second 512, the third 1024, and so on.
	for i := uint64(0); i < 1200; i++ {
		m.PushBack(i)
	}
	for _, idx := range []uint64{0, 255, 256, 511, 512, 1023, 1199} {
		v, err := m.Get(idx)
		require.NoError(err)
		require.Equal(idx, v)
	}
}
