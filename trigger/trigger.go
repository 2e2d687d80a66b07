// Package trigger implements the trigger and alert pipeline of spec.md
// §4.7: a trigger periodically re-reads a filter's aggregate and, when its
// relop against a threshold holds, inserts a deduplicated alert.
package trigger

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/confluo-db/confluo/container/radix"
	"github.com/confluo-db/confluo/types"
)

// Trigger is a named reference to (filter, aggregate, relop, threshold,
// periodicity), per spec.md §4.7.
type Trigger struct {
	Name          string
	FilterID      int
	AggregateIdx  int
	Op            types.RelOp
	Threshold     types.Numeric
	Periodicity   time.Duration
	nextDue       time.Time
}

func New(name string, filterID, aggIdx int, op types.RelOp, threshold types.Numeric, periodicity time.Duration) *Trigger {
	return &Trigger{Name: name, FilterID: filterID, AggregateIdx: aggIdx, Op: op, Threshold: threshold, Periodicity: periodicity}
}

// DueAt reports whether the trigger's next evaluation is due at now,
// advancing its schedule when it fires.
func (t *Trigger) DueAt(now time.Time) bool {
	if now.Before(t.nextDue) {
		return false
	}
	t.nextDue = now.Add(t.Periodicity)
	return true
}

// Evaluate applies the trigger's relop against value, reporting whether an
// alert should fire.
func (t *Trigger) Evaluate(value types.Numeric) (bool, error) {
	return types.Compare(t.Op, value, t.Threshold)
}

// Alert is {time_bucket, trigger-name, expression-text, value, version},
// per spec.md §3.
type Alert struct {
	TimeBucket uint64
	Trigger    string
	Expression string
	Value      types.Numeric
	Version    uint64
}

// Index stores alerts in a radix tree keyed by time_bucket, deduplicated by
// (time_bucket, trigger_name, value) within a bucket, per spec.md §4.7.
type Index struct {
	tree   *radix.Tree
	seen   map[string]struct{}
	alerts []Alert
}

func NewIndex() *Index {
	return &Index{tree: radix.NewTree(8, nil, 1), seen: make(map[string]struct{})}
}

// Alerts returns every alert inserted so far, in insertion order.
func (ix *Index) Alerts() []Alert { return ix.alerts }

func bucketKey(tb uint64) types.ByteString {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, tb)
	return b
}

// Insert records an alert, skipping it if an identical (bucket, trigger,
// value) alert was already inserted in this bucket.
func (ix *Index) Insert(a Alert) bool {
	dedupKey := dedupKeyFor(a)
	if _, ok := ix.seen[dedupKey]; ok {
		return false
	}
	ix.seen[dedupKey] = struct{}{}
	leaf := ix.tree.GetOrCreate(bucketKey(a.TimeBucket))
	leaf.Reflog.PushBack(a.Version)
	ix.alerts = append(ix.alerts, a)
	return true
}

func dedupKeyFor(a Alert) string {
	return a.Trigger + "|" + strconv.FormatUint(a.TimeBucket, 16) + "|" + strconv.FormatUint(a.Value.AsUint64(), 16)
}
