package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/aggregate"
	"github.com/confluo-db/confluo/archival"
	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/threads"
	"github.com/confluo-db/confluo/types"
)

func filterTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddColumn("level", types.Int, 0))
	sc, err := b.Build()
	require.NoError(t, err)
	return sc
}

func TestFilterUpdateAndQuery(t *testing.T) {
	require := require.New(t)
	sc := filterTestSchema(t)
	tm := threads.NewManager(4)
	tok, err := tm.Register(context.Background())
	require.NoError(err)

	f, err := New(0, "errors", "level == 3", sc, 1, tm) // time_resolution_ns = 1
	require.NoError(err)

	mkRecord := func(ts uint64, level int64) *schema.Record {
		rec := make([]byte, sc.RecordSize())
		col, _ := sc.ColumnByName("level")
		col.WriteNumeric(rec, types.FromInt64(types.Int, level))
		sc.Columns()[0].WriteNumeric(rec, types.FromUint64(types.ULong, ts))
		return schema.NewRecord(ts, rec, sc)
	}

	require.NoError(f.Update(tok, mkRecord(10, 3)))
	require.NoError(f.Update(tok, mkRecord(20, 1))) // doesn't match
	require.NoError(f.Update(tok, mkRecord(30, 3)))

	offs, err := f.Query(0, 100)
	require.NoError(err)
	require.ElementsMatch([]uint64{10, 30}, offs)
}

func TestFilterAggregateCount(t *testing.T) {
	require := require.New(t)
	sc := filterTestSchema(t)
	tm := threads.NewManager(4)
	tok, err := tm.Register(context.Background())
	require.NoError(err)

	f, err := New(0, "all", "level >= 0", sc, 1, tm)
	require.NoError(err)

	countAgg, err := aggregate.Find("count")
	require.NoError(err)
	info := aggregate.NewInfo("cnt", countAgg, 1, types.Int)
	f.AddAggregate(info)

	rec := func(ts uint64) *schema.Record {
		data := make([]byte, sc.RecordSize())
		col, _ := sc.ColumnByName("level")
		col.WriteNumeric(data, types.FromInt64(types.Int, 1))
		sc.Columns()[0].WriteNumeric(data, types.FromUint64(types.ULong, ts))
		return schema.NewRecord(ts, data, sc)
	}
	for _, ts := range []uint64{1, 2, 3} {
		require.NoError(f.Update(tok, rec(ts)))
	}

	v, err := f.Aggregate(0, 3+uint64(sc.RecordSize()))
	require.NoError(err)
	require.Equal(uint64(3), v.AsUint64())
}

func TestFilterArchiveOlderThanArchivesOldBucketsOnce(t *testing.T) {
	require := require.New(t)
	sc := filterTestSchema(t)
	tm := threads.NewManager(4)
	tok, err := tm.Register(context.Background())
	require.NoError(err)

	resolution := uint64(time.Second)
	f, err := New(0, "all", "level >= 0", sc, resolution, tm)
	require.NoError(err)

	rec := func(ts uint64) *schema.Record {
		data := make([]byte, sc.RecordSize())
		col, _ := sc.ColumnByName("level")
		col.WriteNumeric(data, types.FromInt64(types.Int, 1))
		sc.Columns()[0].WriteNumeric(data, types.FromUint64(types.ULong, ts))
		return schema.NewRecord(ts, data, sc)
	}

	now := time.Now()
	oldTs := uint64(now.Add(-time.Hour).UnixNano())
	newTs := uint64(now.UnixNano())
	require.NoError(f.Update(tok, rec(oldTs)))
	require.NoError(f.Update(tok, rec(newTs)))

	arch, err := archival.NewReflogArchiver(t.TempDir(), conf.EncodingEliasGamma, nil)
	require.NoError(err)

	n, err := f.ArchiveOlderThan(arch, now, uint64(10*time.Minute))
	require.NoError(err)
	require.Equal(1, n) // only the hour-old bucket is past the 10-minute window

	// A second pass sees nothing new to archive.
	n, err = f.ArchiveOlderThan(arch, now, uint64(10*time.Minute))
	require.NoError(err)
	require.Equal(0, n)

	// The in-memory reflog still serves the archived bucket; archiving is a
	// durability snapshot, not an eviction.
	offs, err := f.Query(0, newTs+1)
	require.NoError(err)
	require.ElementsMatch([]uint64{oldTs, newTs}, offs)
}

func TestFilterFindAggregateResolvesByColumnAndAggregatorName(t *testing.T) {
	require := require.New(t)
	sc := filterTestSchema(t)
	tm := threads.NewManager(4)
	f, err := New(0, "all", "level >= 0", sc, 1, tm)
	require.NoError(err)

	countAgg, err := aggregate.Find("count")
	require.NoError(err)
	f.AddAggregate(aggregate.NewInfo("cnt", countAgg, 1, types.Int))

	idx, ok := f.FindAggregate("level", "count")
	require.True(ok)
	require.Equal(0, idx)

	_, ok = f.FindAggregate("level", "sum")
	require.False(ok)
	_, ok = f.FindAggregate("nonexistent", "count")
	require.False(ok)
}

func TestFilterQueryEmptyUpperBound(t *testing.T) {
	require := require.New(t)
	sc := filterTestSchema(t)
	tm := threads.NewManager(4)
	f, err := New(0, "all", "level >= 0", sc, 1, tm)
	require.NoError(err)
	offs, err := f.Query(5, 0)
	require.NoError(err)
	require.Empty(offs)
}
