// Package filter implements the filter pipeline of spec.md §4.6: a compiled
// expression tested against every incoming record, a time-bucketed radix
// index of aggregated reflogs, and the two update paths (single-record and
// batched) described there. Grounded on libconfluo/src/filter.cc.
package filter

import (
	"encoding/binary"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluo-db/confluo/aggregate"
	"github.com/confluo-db/confluo/archival"
	"github.com/confluo-db/confluo/container/radix"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/parser"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/threads"
	"github.com/confluo-db/confluo/types"
)

// timeBucketKeyWidth is the byte width of a time-bucket radix key
// (floor(ts/time_resolution_ns) encoded as a big-endian uint64).
const timeBucketKeyWidth = 8

// Filter is a named, compiled predicate over a schema plus a time-bucketed
// index of matching records and their aggregates. Lifecycle: created
// active, may be invalidated (never deleted); inactive filters are skipped
// on write, per spec.md §4.6.
type Filter struct {
	ID             int
	Name           string
	ExprText       string
	Expr           *parser.CompiledExpr
	TimeResolution uint64
	index          *radix.Tree
	aggs           []*aggregate.Info
	schema         *schema.Schema
	threadMgr      *threads.Manager
	active         atomic.Bool

	archiveMu       sync.Mutex
	archivedBuckets map[string]bool
}

// New compiles exprText against sc and constructs an active Filter.
func New(id int, name, exprText string, sc *schema.Schema, timeResolutionNs uint64, tm *threads.Manager) (*Filter, error) {
	expr, err := parser.Compile(exprText, sc)
	if err != nil {
		return nil, err
	}
	f := &Filter{
		ID:              id,
		Name:            name,
		ExprText:        exprText,
		Expr:            expr,
		TimeResolution:  timeResolutionNs,
		schema:          sc,
		threadMgr:       tm,
		archivedBuckets: make(map[string]bool),
	}
	f.index = radix.NewTree(timeBucketKeyWidth, nil, tm.MaxConcurrency())
	f.active.Store(true)
	return f, nil
}

func (f *Filter) IsActive() bool { return f.active.Load() }

// Invalidate sets the filter inactive; per spec.md §4.6/§9 this is
// permanent and is how remove_filter is implemented — archival of an
// already-in-flight filter continues and drains rather than being aborted.
func (f *Filter) Invalidate() { f.active.Store(false) }

// AddAggregate registers a new aggregate descriptor on this filter. Like
// the original, aggregates are appended to a fixed-length array per leaf;
// existing leaves do not retroactively gain the new aggregate's history.
func (f *Filter) AddAggregate(info *aggregate.Info) {
	f.aggs = append(f.aggs, info)
	f.index.AddAggDesc(info)
}

// NumAggregates returns how many aggregate descriptors this filter carries.
func (f *Filter) NumAggregates() int { return len(f.aggs) }

// FindAggregate resolves a registered aggregate by its column and aggregator
// name, returning its index for use with Aggregate. Used by the Table API's
// name-based aggregate(expression, column, aggregator) entry point, per
// spec.md §6.
func (f *Filter) FindAggregate(columnName, aggregatorName string) (int, bool) {
	for idx, a := range f.aggs {
		if !a.IsValid() {
			continue
		}
		if a.Agg.Name != aggregatorName {
			continue
		}
		col := f.schema.Columns()[a.FieldIdx]
		if strings.EqualFold(col.Name(), columnName) {
			return idx, true
		}
	}
	return 0, false
}

func timeBucketKey(ts, resolution uint64) types.ByteString {
	bucket := ts / resolution
	b := make([]byte, timeBucketKeyWidth)
	binary.BigEndian.PutUint64(b, bucket)
	return b
}

// Update is the single-record hot path of filter.cc's update(record): the
// calling thread must be registered (tok identifies its shard), the
// predicate is tested, and on a match the offset is pushed to the bucket's
// reflog and every active aggregate is seq-updated.
func (f *Filter) Update(tok threads.Token, record *schema.Record) error {
	fields := record.Fields()
	match, err := f.Expr.Test(fields)
	if err != nil {
		return err
	}
	if !match {
		return nil
	}
	key := timeBucketKey(record.Timestamp(), f.TimeResolution)
	leaf := f.index.Insert(key, record.Offset)
	version := record.Version()
	for i, a := range f.aggs {
		if !a.IsValid() {
			continue
		}
		val := fields[a.FieldIdx]
		if err := leaf.Chains[i].SeqUpdate(tok.ID(), val, version); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBatch is the batched hot path of filter.cc's update(log_offset,
// schema_snapshot, record_block, record_size): the bucket's leaf is looked
// up once, nrecords reflog slots are reserved in a single fetch-add,
// per-record aggregate deltas accumulate locally, and each aggregate is
// comb-updated exactly once at the end, eliminating per-record CAS
// contention.
func (f *Filter) UpdateBatch(tok threads.Token, logOffset uint64, block schema.RecordBlock, recordSize int) error {
	if block.NRecords == 0 {
		return nil
	}
	key := make([]byte, timeBucketKeyWidth)
	binary.BigEndian.PutUint64(key, block.TimeBlock)
	leaf := f.index.GetOrCreate(key)

	local := make([]types.Numeric, len(f.aggs))
	for i, a := range f.aggs {
		local[i] = a.Agg.Zero(a.ValID)
	}

	var matched uint64
	offsets := make([]uint64, 0, block.NRecords)
	for i := 0; i < block.NRecords; i++ {
		rec := block.Data[i*recordSize : (i+1)*recordSize]
		fields := decodeFields(f.schema, rec)
		ok, err := f.Expr.Test(fields)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		matched++
		offsets = append(offsets, logOffset+uint64(i*recordSize))
		for idx, a := range f.aggs {
			if !a.IsValid() {
				continue
			}
			next, err := a.SeqOp(local[idx], fields)
			if err != nil {
				return err
			}
			local[idx] = next
		}
	}
	if matched == 0 {
		return nil
	}
	start := leaf.Reflog.ReserveBatch(matched)
	for i, off := range offsets {
		leaf.Reflog.SetUnsafe(start+uint64(i), off)
	}

	version := logOffset + uint64(block.NRecords*recordSize)
	for idx, a := range f.aggs {
		if !a.IsValid() {
			continue
		}
		if err := leaf.Chains[idx].CombUpdate(tok.ID(), local[idx], version); err != nil {
			return err
		}
	}
	return nil
}

func decodeFields(sc *schema.Schema, record []byte) []types.Numeric {
	cols := sc.Columns()
	out := make([]types.Numeric, len(cols))
	for i, c := range cols {
		out[i] = c.ExtractNumeric(record)
	}
	return out
}

// Query returns the record offsets stored in the time-bucket range
// [fromTs, toTs), used by filter-level queries in spec.md §8's scenario 2.
func (f *Filter) Query(fromTs, toTs uint64) ([]uint64, error) {
	if !f.IsActive() {
		return nil, errtype.New(errtype.InvalidOperation, "filter "+f.Name+" is inactive")
	}
	if toTs == 0 {
		return nil, nil
	}
	kmin := timeBucketKey(fromTs, f.TimeResolution)
	kmax := timeBucketKey(toTs-1, f.TimeResolution)
	var out []uint64
	for _, leaf := range f.index.RangeLookupReflogs(kmin, kmax) {
		out = append(out, leaf.Reflog.All()...)
	}
	return out, nil
}

// Aggregate reads aggregate index idx's value as of version v, folded
// across the record's whole time range via the tree's full span.
func (f *Filter) Aggregate(idx int, v uint64) (types.Numeric, error) {
	if idx < 0 || idx >= len(f.aggs) {
		return types.Numeric{}, errtype.New(errtype.InvalidAccess, "aggregate index out of range")
	}
	zero := make(types.ByteString, timeBucketKeyWidth)
	ones := make(types.ByteString, timeBucketKeyWidth)
	for i := range ones {
		ones[i] = 0xFF
	}
	acc := f.aggs[idx].Agg.Zero(f.aggs[idx].ValID)
	for _, leaf := range f.index.RangeLookupReflogs(zero, ones) {
		val, err := leaf.Chains[idx].Get(v)
		if err != nil {
			return types.Numeric{}, err
		}
		acc, err = f.aggs[idx].Agg.CombOp(acc, val)
		if err != nil {
			return types.Numeric{}, err
		}
	}
	return acc, nil
}

// ArchiveOlderThan persists, via arch, the contents of every time bucket
// older than now-windowNs that has not yet been archived, keyed by its
// radix key so a later Load can find it again. Per spec.md §4.8's "filter
// archival is analogous to data log archival," but unlike a data log
// bucket a reflog leaf has no archived/swappable-pointer state of its own:
// this is a durability snapshot only, the in-memory reflog is never
// evicted, and reads keep being served out of it. It returns the number of
// buckets newly archived.
func (f *Filter) ArchiveOlderThan(arch *archival.ReflogArchiver, now time.Time, windowNs uint64) (int, error) {
	nowNs := uint64(now.UnixNano())
	if windowNs >= nowNs {
		return 0, nil
	}
	cutoff := nowNs - windowNs
	zero := make(types.ByteString, timeBucketKeyWidth)
	kmax := timeBucketKey(cutoff, f.TimeResolution)

	n := 0
	for _, kr := range f.index.RangeLookupKeyed(zero, kmax) {
		k := string(kr.Key)
		f.archiveMu.Lock()
		done := f.archivedBuckets[k]
		f.archiveMu.Unlock()
		if done {
			continue
		}
		offsets := kr.Leaf.Reflog.All()
		if _, err := arch.Archive(kr.Key, offsets); err != nil {
			return n, err
		}
		f.archiveMu.Lock()
		f.archivedBuckets[k] = true
		f.archiveMu.Unlock()
		n++
	}
	return n, nil
}
