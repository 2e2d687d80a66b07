package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/types"
)

func TestChainSeqUpdateSingleShard(t *testing.T) {
	require := require.New(t)
	sumAgg, err := Find("sum")
	require.NoError(err)

	c := NewChain(sumAgg, types.Long, 1)
	require.NoError(c.SeqUpdate(0, types.FromInt64(types.Long, 3), 10))
	require.NoError(c.SeqUpdate(0, types.FromInt64(types.Long, 4), 20))

	v, err := c.Get(20)
	require.NoError(err)
	require.Equal(int64(7), v.AsInt64())

	// As-of an earlier version only the first update is visible.
	v, err = c.Get(10)
	require.NoError(err)
	require.Equal(int64(3), v.AsInt64())
}

func TestChainGetFoldsAcrossShards(t *testing.T) {
	require := require.New(t)
	maxAgg, err := Find("max")
	require.NoError(err)

	c := NewChain(maxAgg, types.Long, 2)
	require.NoError(c.SeqUpdate(0, types.FromInt64(types.Long, 5), 1))
	require.NoError(c.SeqUpdate(1, types.FromInt64(types.Long, 9), 1))

	v, err := c.Get(1)
	require.NoError(err)
	require.Equal(int64(9), v.AsInt64())
}

func TestChainCombUpdateCommitsOneNodePerBlock(t *testing.T) {
	require := require.New(t)
	countAgg, err := Find("count")
	require.NoError(err)

	c := NewChain(countAgg, types.ULong, 1)
	require.NoError(c.CombUpdate(0, types.FromUint64(types.ULong, 5), 100))
	v, err := c.Get(100)
	require.NoError(err)
	require.Equal(uint64(5), v.AsUint64())
}

func TestFindUnknownAggregator(t *testing.T) {
	_, err := Find("median")
	require.Error(t, err)
}
