// Package multilog implements the atomic multilog of spec.md §3/§4: the
// table abstraction tying together a data log, per-column radix indexes, a
// filter log, a trigger log, and a background task pool exposed through
// Pool. Archival and trigger evaluation are driven by the store's periodic
// tasks, not by this pool.
package multilog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confluo-db/confluo/aggregate"
	"github.com/confluo-db/confluo/archival"
	"github.com/confluo-db/confluo/container/monolog"
	"github.com/confluo-db/confluo/container/radix"
	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/datalog"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/filter"
	"github.com/confluo-db/confluo/internal/numutil"
	"github.com/confluo-db/confluo/parser"
	"github.com/confluo-db/confluo/planner"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/storage"
	"github.com/confluo-db/confluo/threads"
	"github.com/confluo-db/confluo/trigger"
	"github.com/confluo-db/confluo/types"
)

// StorageMode selects the data log's durability, per spec.md §6.
type StorageMode int

const (
	InMemory StorageMode = iota
	DurableRelaxed
	Durable
)

// ArchivalMode toggles the background archiver, per spec.md §6.
type ArchivalMode int

const (
	ArchivalOff ArchivalMode = iota
	ArchivalOn
)

type indexEntry struct {
	column     *schema.Column
	tree       *radix.Tree
	bucketSize float64
	keyWidth   int
}

// Multilog is the atomic multilog of spec.md §3.
type Multilog struct {
	Name   string
	Schema *schema.Schema

	params    conf.Params
	log       *zap.Logger
	threadMgr *threads.Manager
	pool      *threads.Pool

	dataLog   *datalog.DataLog
	linear    *monolog.Linear
	flushTask *threads.Periodic

	archiver       *archival.DataLogArchiver
	reflogArchiver *archival.ReflogArchiver

	mu       sync.RWMutex
	indexes  map[int]*indexEntry
	filters  []*filter.Filter
	triggers []*trigger.Trigger
	alerts   *trigger.Index

	nextFilterID int
}

// New constructs a multilog over sc, with storage/archival modes per
// spec.md §6's create_multilog contract.
func New(name string, sc *schema.Schema, p conf.Params, mode StorageMode, dir string, log *zap.Logger) *Multilog {
	if log == nil {
		log = zap.NewNop()
	}
	var lin *monolog.Linear
	switch mode {
	case InMemory:
		lin = monolog.NewLinear(0, 0)
	case DurableRelaxed:
		lin = monolog.NewDurableLinear(dir, 0, 0, monolog.DurableRelaxed)
	case Durable:
		lin = monolog.NewDurableLinear(dir, 0, 0, monolog.DurableStrict)
	}
	m := &Multilog{
		Name:      name,
		Schema:    sc,
		params:    p,
		log:       log,
		threadMgr: threads.NewManager(p.MaxConcurrency),
		pool:      threads.NewPool(context.Background(), p.MaxConcurrency),
		dataLog:   datalog.New(lin),
		linear:    lin,
		indexes:   make(map[int]*indexEntry),
		alerts:    trigger.NewIndex(),
	}
	if mode == DurableRelaxed && p.RelaxedFlushPeriodicityMs > 0 {
		m.flushTask = threads.NewPeriodic("relaxed-flush", time.Duration(p.RelaxedFlushPeriodicityMs)*time.Millisecond, func() {
			if err := lin.FlushRelaxed(); err != nil {
				log.Warn("relaxed durability flush failed", zap.String("multilog", name), zap.Error(err))
			}
		}, log)
		m.flushTask.Start()
	}
	return m
}

// Close stops this multilog's background tasks (currently only the
// DurableRelaxed periodic msync flush, if running).
func (m *Multilog) Close() {
	if m.flushTask != nil {
		m.flushTask.Stop()
	}
}

// ThreadManager exposes the writer-registration manager; callers must
// register before Append/AppendBatch, per spec.md §4.6/§5.
func (m *Multilog) ThreadManager() *threads.Manager { return m.threadMgr }

// Append reserves, writes, indexes and filters one record, then publishes
// it by advancing the read-tail, matching spec.md §2's ingest data flow.
func (m *Multilog) Append(tok threads.Token, record []byte) (uint64, error) {
	if len(record) != m.Schema.RecordSize() {
		return 0, errtype.New(errtype.InvalidOperation, "record size mismatch")
	}
	size := uint64(len(record))
	offset, err := m.dataLog.Reserve(size)
	if err != nil {
		return 0, err
	}
	if err := m.dataLog.WriteAt(offset, record); err != nil {
		return 0, err
	}
	rec := schema.NewRecord(offset, record, m.Schema)
	if err := m.indexRecord(rec); err != nil {
		return 0, err
	}
	if err := m.filterRecord(tok, rec); err != nil {
		return 0, err
	}
	for !m.dataLog.Publish(offset, offset+size) {
		// another writer's range still pending ahead of ours; spin until
		// the read-tail can advance contiguously.
	}
	return offset, nil
}

// AppendBatch appends every record block in batch via the filter log's
// batched update path, matching spec.md §4.6.
func (m *Multilog) AppendBatch(tok threads.Token, batch schema.RecordBatch) (uint64, error) {
	recordSize := m.Schema.RecordSize()
	var first uint64
	haveFirst := false
	for _, block := range batch.Blocks {
		n := uint64(block.NRecords * recordSize)
		offset, err := m.dataLog.Reserve(n)
		if err != nil {
			return 0, err
		}
		if !haveFirst {
			first, haveFirst = offset, true
		}
		if err := m.dataLog.WriteAt(offset, block.Data); err != nil {
			return 0, err
		}
		for i := 0; i < block.NRecords; i++ {
			rec := schema.NewRecord(offset+uint64(i*recordSize), block.Data[i*recordSize:(i+1)*recordSize], m.Schema)
			if err := m.indexRecord(rec); err != nil {
				return 0, err
			}
		}
		m.mu.RLock()
		filters := append([]*filter.Filter(nil), m.filters...)
		m.mu.RUnlock()
		for _, f := range filters {
			if !f.IsActive() {
				continue
			}
			if err := f.UpdateBatch(tok, offset, block, recordSize); err != nil {
				return 0, err
			}
		}
		for !m.dataLog.Publish(offset, offset+n) {
		}
	}
	return first, nil
}

func (m *Multilog) indexRecord(rec *schema.Record) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for colIdx, ie := range m.indexes {
		col := m.Schema.Columns()[colIdx]
		val := col.ExtractNumeric(rec.Data)
		key := types.KeyTransform(val, ie.bucketSize, ie.keyWidth)
		ie.tree.Insert(key, rec.Offset)
	}
	return nil
}

func (m *Multilog) filterRecord(tok threads.Token, rec *schema.Record) error {
	m.mu.RLock()
	filters := append([]*filter.Filter(nil), m.filters...)
	m.mu.RUnlock()
	for _, f := range filters {
		if !f.IsActive() {
			continue
		}
		if err := f.Update(tok, rec); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the record_size-byte record at offset, transparently
// decoding it if its bucket has been archived.
func (m *Multilog) Read(offset uint64) ([]byte, error) {
	return m.dataLog.Read(offset, m.Schema.RecordSize(), archival.Decode)
}

// EnableArchival wires a background data-log archiver for this multilog,
// writing incremental bucket files under dir and encoding them per
// m.params.DataLogArchivalEncoding. Called by the store facade at
// create/load time when the multilog's archival mode is ArchivalOn.
func (m *Multilog) EnableArchival(dir string, alloc *storage.Allocator) error {
	enc := m.params.DataLogArchivalEncoding
	a, err := archival.NewDataLogArchiver(m.linear, alloc, dir, enc, 0, m.log)
	if err != nil {
		return err
	}
	m.archiver = a
	ra, err := archival.NewReflogArchiver(filepath.Join(dir, "reflogs"), m.params.ReflogArchivalEncoding, m.log)
	if err != nil {
		return err
	}
	m.reflogArchiver = ra
	return nil
}

// RunArchival archives every full data-log bucket below the current
// read-tail. A no-op if EnableArchival was never called. The store
// facade's memory-pressure callback and periodic archival task both call
// this across every multilog.
func (m *Multilog) RunArchival() (int, error) {
	if m.archiver == nil {
		return 0, nil
	}
	return m.archiver.ArchiveUpTo(m.dataLog.ReadTail())
}

// ReplayArchival replays this multilog's archival action log, rehydrating
// every previously-archived bucket's Swappable pointer and restoring the
// data log's tails past the archived prefix, per spec.md §6's
// load_multilog contract ("replays archival action logs and rehydrates
// state"). Must be called before any Append, and only once EnableArchival
// has installed an archiver; a no-op otherwise since there is nothing to
// replay for an archival-off multilog.
func (m *Multilog) ReplayArchival() error {
	if m.archiver == nil {
		return nil
	}
	tail, err := m.archiver.Replay()
	if err != nil {
		return err
	}
	if tail > 0 {
		m.dataLog.RestoreTail(tail)
	}
	return nil
}

// RunReflogArchival archives, across every active filter, the time buckets
// older than now minus ArchivalInMemoryFilterWindowNs that have not yet been
// archived. A no-op if EnableArchival was never called. Per spec.md §4.8,
// index archival ("walks per-key reflogs across the index's key range") is
// not implemented: unlike filters, the spec names no staleness criterion for
// when an index's reflogs become archivable, and inventing one here would be
// unverifiable against spec.md.
func (m *Multilog) RunReflogArchival(now time.Time) (int, error) {
	if m.reflogArchiver == nil {
		return 0, nil
	}
	m.mu.RLock()
	filters := append([]*filter.Filter(nil), m.filters...)
	m.mu.RUnlock()
	total := 0
	for _, f := range filters {
		if !f.IsActive() {
			continue
		}
		n, err := f.ArchiveOlderThan(m.reflogArchiver, now, m.params.ArchivalInMemoryFilterWindowNs)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// AddIndex attaches a radix index to columnName, per spec.md §6.
func (m *Multilog) AddIndex(columnName string, bucketSize float64) error {
	col, err := m.Schema.ColumnByName(columnName)
	if err != nil {
		return err
	}
	keyWidth := col.Size()
	if err := col.AttachIndex(bucketSize, keyWidth); err != nil {
		return err
	}
	m.mu.Lock()
	m.indexes[col.Idx] = &indexEntry{column: col, tree: radix.NewTree(keyWidth, nil, m.params.MaxConcurrency), bucketSize: bucketSize, keyWidth: keyWidth}
	m.mu.Unlock()
	col.MarkIndexed()
	return nil
}

// RemoveIndex detaches columnName's index.
func (m *Multilog) RemoveIndex(columnName string) error {
	col, err := m.Schema.ColumnByName(columnName)
	if err != nil {
		return err
	}
	col.RemoveIndex()
	m.mu.Lock()
	delete(m.indexes, col.Idx)
	m.mu.Unlock()
	return nil
}

// IndexFor implements planner.IndexSource.
func (m *Multilog) IndexFor(columnIdx int) (*radix.Tree, float64, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ie, ok := m.indexes[columnIdx]
	if !ok {
		return nil, 0, 0, false
	}
	return ie.tree, ie.bucketSize, ie.keyWidth, true
}

// LoadFields implements planner.RecordLoader.
func (m *Multilog) LoadFields(offset uint64) ([]types.Numeric, error) {
	data, err := m.Read(offset)
	if err != nil {
		return nil, err
	}
	rec := schema.NewRecord(offset, data, m.Schema)
	return rec.Fields(), nil
}

// AddFilter compiles and registers a new active filter, per spec.md §6.
func (m *Multilog) AddFilter(name, exprText string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextFilterID
	m.nextFilterID++
	f, err := filter.New(id, name, exprText, m.Schema, m.params.TimeResolutionNs, m.threadMgr)
	if err != nil {
		return 0, err
	}
	m.filters = append(m.filters, f)
	return id, nil
}

// RemoveFilter invalidates filter id; per spec.md §9 this is a logical
// invalidate, not a deletion.
func (m *Multilog) RemoveFilter(id int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.filters {
		if f.ID == id {
			f.Invalidate()
			return nil
		}
	}
	return errtype.New(errtype.NotFound, "filter not found")
}

// AddAggregate attaches a named aggregate to filterID's index, per spec.md
// §6, returning the aggregate's index within that filter.
func (m *Multilog) AddAggregate(filterID int, name, aggregatorName, columnName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.filterByID(filterID)
	if f == nil {
		return 0, errtype.New(errtype.NotFound, "filter not found")
	}
	col, err := m.Schema.ColumnByName(columnName)
	if err != nil {
		return 0, err
	}
	agg, err := aggregate.Find(aggregatorName)
	if err != nil {
		return 0, err
	}
	idx := f.NumAggregates()
	info := aggregate.NewInfo(name, agg, col.Idx, col.Type)
	f.AddAggregate(info)
	return idx, nil
}

func (m *Multilog) filterByID(id int) *filter.Filter {
	for _, f := range m.filters {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// AddTrigger registers a trigger referencing a filter's aggregate, per
// spec.md §6.
func (m *Multilog) AddTrigger(name string, filterID, aggIdx int, op types.RelOp, threshold types.Numeric, periodicityMs uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filterByID(filterID) == nil {
		return errtype.New(errtype.NotFound, "filter not found")
	}
	t := trigger.New(name, filterID, aggIdx, op, threshold, time.Duration(periodicityMs)*time.Millisecond)
	m.triggers = append(m.triggers, t)
	return nil
}

// EvaluateTriggers runs every due trigger once, firing alerts on match; the
// Store's periodic task calls this every MonitorPeriodicityMs.
func (m *Multilog) EvaluateTriggers(now time.Time, asOf uint64) {
	m.mu.RLock()
	triggers := append([]*trigger.Trigger(nil), m.triggers...)
	m.mu.RUnlock()
	windowNs := m.params.MonitorWindowMs * uint64(time.Millisecond)
	var windowStart uint64
	if asOf > windowNs {
		windowStart = asOf - windowNs
	}
	bucket := numutil.AbsoluteDifference(asOf, windowStart) / m.params.TimeResolutionNs
	for _, t := range triggers {
		if !t.DueAt(now) {
			continue
		}
		f := m.filterByID(t.FilterID)
		if f == nil || !f.IsActive() {
			continue
		}
		val, err := f.Aggregate(t.AggregateIdx, asOf)
		if err != nil {
			m.log.Warn("trigger evaluation failed", zap.String("trigger", t.Name), zap.Error(err))
			continue
		}
		fire, err := t.Evaluate(val)
		if err != nil || !fire {
			continue
		}
		m.alerts.Insert(trigger.Alert{TimeBucket: bucket, Trigger: t.Name, Value: val, Version: asOf})
	}
}

func (m *Multilog) Alerts() []trigger.Alert { return m.alerts.Alerts() }

// Query compiles exprText, plans it, and executes against the current
// read-tail (or asOf, if non-zero), per spec.md §6's query contract.
func (m *Multilog) Query(exprText string, asOf uint64) ([]uint64, error) {
	expr, err := parser.Compile(exprText, m.Schema)
	if err != nil {
		return nil, err
	}
	limit := m.dataLog.ReadTail()
	if asOf != 0 && asOf < limit {
		limit = asOf
	}
	recordSize := m.Schema.RecordSize()
	allOffsets := func() ([]uint64, error) {
		var out []uint64
		for off := uint64(0); off+uint64(recordSize) <= limit; off += uint64(recordSize) {
			out = append(out, off)
		}
		return out, nil
	}
	plan := planner.Build(expr, m.Schema, m, allOffsets)
	offs, err := plan.Execute(m, m)
	if err != nil {
		return nil, err
	}
	out := offs[:0]
	for _, off := range offs {
		if off < limit {
			out = append(out, off)
		}
	}
	return out, nil
}

// Aggregate evaluates aggregate index aggIdx of filterID as of asOf (0 means
// the current read-tail). Callers that only have a filter and aggregate's
// names, not their numeric IDs, should use AggregateByExpr instead.
func (m *Multilog) Aggregate(filterID, aggIdx int, asOf uint64) (types.Numeric, error) {
	f := m.filterByID(filterID)
	if f == nil {
		return types.Numeric{}, errtype.New(errtype.NotFound, "filter not found")
	}
	limit := m.dataLog.ReadTail()
	if asOf != 0 && asOf < limit {
		limit = asOf
	}
	return f.Aggregate(aggIdx, limit)
}

// AggregateByExpr evaluates aggregatorName over columnName across every
// record matching exprText's filter, resolving both names to the registered
// filter and aggregate index internally, matching spec.md §6's Table API
// aggregate(expression_string, column_name, aggregator_name, as_of_version?)
// entry point.
func (m *Multilog) AggregateByExpr(exprText, columnName, aggregatorName string, asOf uint64) (types.Numeric, error) {
	m.mu.RLock()
	var f *filter.Filter
	for _, cand := range m.filters {
		if cand.ExprText == exprText {
			f = cand
			break
		}
	}
	m.mu.RUnlock()
	if f == nil {
		return types.Numeric{}, errtype.New(errtype.NotFound, "no filter registered for expression "+exprText)
	}
	aggIdx, ok := f.FindAggregate(columnName, aggregatorName)
	if !ok {
		return types.Numeric{}, errtype.New(errtype.NotFound, "no aggregate "+aggregatorName+"("+columnName+") on filter "+f.Name)
	}
	limit := m.dataLog.ReadTail()
	if asOf != 0 && asOf < limit {
		limit = asOf
	}
	return f.Aggregate(aggIdx, limit)
}

func (m *Multilog) Pool() *threads.Pool { return m.pool }
func (m *Multilog) Params() conf.Params { return m.params }
func (m *Multilog) DataLog() *datalog.DataLog { return m.dataLog }
func (m *Multilog) Linear() *monolog.Linear   { return m.linear }
