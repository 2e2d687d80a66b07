package multilog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/storage"
	"github.com/confluo-db/confluo/types"
)

func e2eSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddColumn("level", types.Int, 0))
	sc, err := b.Build()
	require.NoError(t, err)
	return sc
}

func e2eParams() conf.Params {
	p := conf.Defaults()
	p.MaxConcurrency = 4
	p.TimeResolutionNs = 1
	p.MonitorWindowMs = 1
	return p
}

func mkRecord(sc *schema.Schema, ts uint64, level int64) []byte {
	rec := make([]byte, sc.RecordSize())
	sc.Columns()[0].WriteNumeric(rec, types.FromUint64(types.ULong, ts))
	col, _ := sc.ColumnByName("level")
	col.WriteNumeric(rec, types.FromInt64(types.Int, level))
	return rec
}

// TestEndToEndAppendIndexFilterQueryAggregate exercises the full
// append -> index -> filter -> query -> aggregate pipeline described in
// spec.md §8's scenarios.
func TestEndToEndAppendIndexFilterQueryAggregate(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	m := New("errors", sc, e2eParams(), InMemory, "", nil)

	require.NoError(m.AddIndex("level", 1))

	filterID, err := m.AddFilter("high", "level > 5")
	require.NoError(err)
	aggIdx, err := m.AddAggregate(filterID, "cnt", "count", "level")
	require.NoError(err)

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)

	levels := []int64{1, 10, 3, 20, 7}
	var lastOffset uint64
	for i, lvl := range levels {
		off, err := m.Append(tok, mkRecord(sc, uint64(i+1), lvl))
		require.NoError(err)
		lastOffset = off
	}
	_ = lastOffset

	// Query via the compiled-expression + planner path (uses the level index).
	offs, err := m.Query("level > 5", 0)
	require.NoError(err)
	require.Len(offs, 3) // 10, 20, 7

	for _, off := range offs {
		data, err := m.Read(off)
		require.NoError(err)
		rec := schema.NewRecord(off, data, sc)
		require.Greater(rec.Fields()[1].AsInt64(), int64(5))
	}

	// Aggregate: count of records matching "high" filter as of the read tail.
	v, err := m.Aggregate(filterID, aggIdx, 0)
	require.NoError(err)
	require.Equal(uint64(3), v.AsUint64())
}

// TestAggregateByExprResolvesFilterAndAggregateByName exercises the
// name-based Table API aggregate entry point (spec.md §6's
// aggregate(expression_string, column_name, aggregator_name, as_of_version?)),
// alongside the existing ID-based Aggregate.
func TestAggregateByExprResolvesFilterAndAggregateByName(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	m := New("errors", sc, e2eParams(), InMemory, "", nil)

	filterID, err := m.AddFilter("high", "level > 5")
	require.NoError(err)
	_, err = m.AddAggregate(filterID, "cnt", "count", "level")
	require.NoError(err)

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)
	for i, lvl := range []int64{10, 20, 1} {
		_, err := m.Append(tok, mkRecord(sc, uint64(i+1), lvl))
		require.NoError(err)
	}

	v, err := m.AggregateByExpr("level > 5", "level", "count", 0)
	require.NoError(err)
	require.Equal(uint64(2), v.AsUint64())

	_, err = m.AggregateByExpr("level > 5", "level", "sum", 0)
	require.Error(err)
	_, err = m.AggregateByExpr("no such expr", "level", "count", 0)
	require.Error(err)
}

// TestRunReflogArchivalArchivesOldFilterBucketsWithoutEvicting exercises
// the filter-reflog archival path wired in for the review's comment on
// archival.ReflogArchiver being otherwise unreachable.
func TestRunReflogArchivalArchivesOldFilterBucketsWithoutEvicting(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	p := e2eParams()
	p.TimeResolutionNs = uint64(time.Second)
	p.ArchivalInMemoryFilterWindowNs = uint64(10 * time.Minute)
	dir := t.TempDir()
	m := New("events", sc, p, InMemory, dir, nil)
	require.NoError(m.EnableArchival(dir, storage.NewAllocator(0, nil)))

	filterID, err := m.AddFilter("all", "level >= 0")
	require.NoError(err)
	_, err = m.AddAggregate(filterID, "cnt", "count", "level")
	require.NoError(err)

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)
	now := time.Now()
	oldTs := uint64(now.Add(-time.Hour).UnixNano())
	newTs := uint64(now.UnixNano())
	_, err = m.Append(tok, mkRecord(sc, oldTs, 1))
	require.NoError(err)
	_, err = m.Append(tok, mkRecord(sc, newTs, 2))
	require.NoError(err)

	n, err := m.RunReflogArchival(now)
	require.NoError(err)
	require.Equal(1, n) // only the hour-old bucket is past the 10-minute window

	// The filter keeps serving reads from memory; archiving doesn't evict.
	v, err := m.Aggregate(filterID, 0, 0)
	require.NoError(err)
	require.Equal(uint64(2), v.AsUint64())
}

func TestEndToEndTriggerFiresAlert(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	m := New("errors", sc, e2eParams(), InMemory, "", nil)

	filterID, err := m.AddFilter("high", "level > 5")
	require.NoError(err)
	aggIdx, err := m.AddAggregate(filterID, "cnt", "count", "level")
	require.NoError(err)

	require.NoError(m.AddTrigger("too-many", filterID, aggIdx, types.Ge, types.FromUint64(types.ULong, 2), 0))

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)

	var lastOffset uint64
	for i, lvl := range []int64{10, 20, 30} {
		off, err := m.Append(tok, mkRecord(sc, uint64(i+1), lvl))
		require.NoError(err)
		lastOffset = off
	}

	asOf := lastOffset + uint64(sc.RecordSize())
	m.EvaluateTriggers(time.Now(), asOf)

	alerts := m.Alerts()
	require.Len(alerts, 1)
	require.Equal("too-many", alerts[0].Trigger)
}

// TestDurableRelaxedStartsAndStopsFlushTask exercises the periodic msync
// flush wired in for DurableRelaxed's "mmap + periodic msync" mode.
func TestDurableRelaxedStartsAndStopsFlushTask(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	p := e2eParams()
	p.RelaxedFlushPeriodicityMs = 5
	dir := t.TempDir()
	m := New("events", sc, p, DurableRelaxed, dir, nil)
	require.NotNil(m.flushTask)

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)
	_, err = m.Append(tok, mkRecord(sc, 1, 1))
	require.NoError(err)

	time.Sleep(20 * time.Millisecond) // let at least one flush tick run
	m.Close()

	data, err := m.Read(0)
	require.NoError(err)
	rec := schema.NewRecord(0, data, sc)
	require.Equal(int64(1), rec.Fields()[1].AsInt64())
}

func TestEndToEndAppendBatch(t *testing.T) {
	require := require.New(t)
	sc := e2eSchema(t)
	m := New("errors", sc, e2eParams(), InMemory, "", nil)
	filterID, err := m.AddFilter("all", "level >= 0")
	require.NoError(err)
	aggIdx, err := m.AddAggregate(filterID, "cnt", "count", "level")
	require.NoError(err)

	tok, err := m.ThreadManager().Register(context.Background())
	require.NoError(err)

	bb := schema.NewBatchBuilder(sc, 100)
	bb.AddRecord(mkRecord(sc, 1, 1))
	bb.AddRecord(mkRecord(sc, 2, 2))
	bb.AddRecord(mkRecord(sc, 3, 3))
	batch := bb.GetBatch()

	_, err = m.AppendBatch(tok, batch)
	require.NoError(err)

	v, err := m.Aggregate(filterID, aggIdx, 0)
	require.NoError(err)
	require.Equal(uint64(3), v.AsUint64())
}
