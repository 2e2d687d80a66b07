package radix

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/aggregate"
	"github.com/confluo-db/confluo/types"
)

func TestNewAggregatedReflogAllocatesOneChainPerDescriptor(t *testing.T) {
	require := require.New(t)
	countAgg, err := aggregate.Find("count")
	require.NoError(err)
	sumAgg, err := aggregate.Find("sum")
	require.NoError(err)

	infos := []*aggregate.Info{
		aggregate.NewInfo("cnt", countAgg, 0, types.ULong),
		aggregate.NewInfo("total", sumAgg, 0, types.Int),
	}

	ar := NewAggregatedReflog(infos, 2)
	require.NotNil(ar.Reflog)
	require.Len(ar.Chains, 2)
}

func TestAggregatedReflogChainsTrackReflogOffsets(t *testing.T) {
	require := require.New(t)
	countAgg, err := aggregate.Find("count")
	require.NoError(err)

	info := aggregate.NewInfo("cnt", countAgg, 0, types.ULong)
	ar := NewAggregatedReflog([]*aggregate.Info{info}, 1)

	ar.Reflog.PushBack(10)
	require.NoError(ar.Chains[0].SeqUpdate(0, types.CountOne(), 1))
	ar.Reflog.PushBack(20)
	require.NoError(ar.Chains[0].SeqUpdate(0, types.CountOne(), 2))

	require.Equal(uint64(2), ar.Reflog.Size())
	v, err := ar.Chains[0].Get(2)
	require.NoError(err)
	require.Equal(uint64(2), v.AsUint64())
}
