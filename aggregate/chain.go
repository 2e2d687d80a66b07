package aggregate

import (
	"sync/atomic"

	"github.com/confluo-db/confluo/types"
)

// node is one entry of an append-only, versioned aggregate chain, matching
// aggregate_node in aggregate.cc: {value, version, next}. Chains are never
// compacted; new nodes are prepended, with head swapped via CAS.
type node struct {
	value   types.Numeric
	version uint64
	next    *node
}

// list is a single writer-shard's chain, with an atomic head.
type list struct {
	head atomic.Pointer[node]
}

// getNode returns the node whose version is the greatest not exceeding v, or
// nil if every node's version exceeds v (or the chain is empty). This is
// aggregate.cc's get_node: an exact match returns immediately, matching
// spec.md §9's decision that get_nearest_value on an exact match returns the
// exact match.
func (l *list) getNode(v uint64) *node {
	for n := l.head.Load(); n != nil; n = n.next {
		if n.version <= v {
			return n
		}
	}
	return nil
}

func (l *list) prepend(value types.Numeric, version uint64) {
	n := &node{value: value, version: version}
	for {
		head := l.head.Load()
		n.next = head
		if l.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// Chain is the per-aggregate, per-shard structure of spec.md §3: "each
// writer thread has its own chain slot, and a reader combines the per-
// thread heads using the aggregator's combine op."
type Chain struct {
	agg    *Aggregator
	valID  types.ID
	shards []list
}

// NewChain allocates a Chain with the given number of writer shards
// (typically conf.Params.MaxConcurrency, indexed by the caller's registered
// thread id).
func NewChain(agg *Aggregator, valID types.ID, shards int) *Chain {
	return &Chain{agg: agg, valID: valID, shards: make([]list, shards)}
}

// SeqUpdate applies the aggregator's seq_op for a single record on the
// calling thread's shard, prepending the new running value at the given
// version. This is aggregate.cc's seq_update.
func (c *Chain) SeqUpdate(shard int, val types.Numeric, version uint64) error {
	prev := c.shardValue(shard, version)
	next, err := c.agg.SeqOp(prev, val)
	if err != nil {
		return err
	}
	c.shards[shard].prepend(next, version)
	return nil
}

// CombUpdate applies the aggregator's comb_op directly (the value passed in
// is already the result of folding several local updates), used by the
// batched filter-update path per spec.md §4.6 to commit one node per block
// instead of one per record.
func (c *Chain) CombUpdate(shard int, val types.Numeric, version uint64) error {
	prev := c.shardValue(shard, version)
	next, err := c.agg.CombOp(prev, val)
	if err != nil {
		return err
	}
	c.shards[shard].prepend(next, version)
	return nil
}

func (c *Chain) shardValue(shard int, version uint64) types.Numeric {
	if n := c.shards[shard].getNode(version); n != nil {
		return n.value
	}
	return c.agg.Zero(c.valID)
}

// Get folds the aggregator's comb_op across every shard's value as of
// version v, starting from the aggregator's zero, matching aggregate::get.
func (c *Chain) Get(v uint64) (types.Numeric, error) {
	acc := c.agg.Zero(c.valID)
	for i := range c.shards {
		n := c.shards[i].getNode(v)
		if n == nil {
			continue
		}
		var err error
		acc, err = c.agg.CombOp(acc, n.value)
		if err != nil {
			return types.Numeric{}, err
		}
	}
	return acc, nil
}
