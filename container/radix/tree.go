package radix

import (
	"sync/atomic"

	"github.com/confluo-db/confluo/aggregate"
	"github.com/confluo-db/confluo/internal/atomicx"
	"github.com/confluo-db/confluo/types"
)

// Fanout is F in spec.md §4.3: children per internal node.
const Fanout = 256

// node is either an internal node (children populated, leaf nil) or a leaf
// (leaf populated, children nil). The root is always an internal node.
type node struct {
	children [Fanout]atomic.Pointer[node]
	leaf     *AggregatedReflog
}

// Tree is the fixed-depth radix tree over KeyWidth-byte keys described in
// spec.md §4.3, grounded on libds's radix_tree.
type Tree struct {
	root      node
	keyWidth  int // D = key length in bytes (one byte = one digit, F=256)
	aggDescs  []*aggregate.Info
	numShards int
}

// NewTree constructs a tree over keys of the given byte width. aggDescs is
// the set of aggregate descriptors every leaf's AggregatedReflog maintains;
// numShards sizes each aggregate chain's writer-shard array.
func NewTree(keyWidth int, aggDescs []*aggregate.Info, numShards int) *Tree {
	return &Tree{keyWidth: keyWidth, aggDescs: aggDescs, numShards: numShards}
}

// AddAggDesc appends a new aggregate descriptor to the set every
// subsequently-created leaf will carry. Leaves created before this call do
// not retroactively gain the new aggregate's chain, matching spec.md §9's
// treatment of filter mutation as additive, never retroactive.
func (t *Tree) AddAggDesc(info *aggregate.Info) { t.aggDescs = append(t.aggDescs, info) }

// GetOrCreate walks keyWidth levels, CAS-allocating missing children, and
// returns the leaf AggregatedReflog for key, creating it if absent.
// Concurrent calls with an equal key observe the same leaf (the CAS
// installing the leaf node is the linearization point, per spec.md §4.3).
func (t *Tree) GetOrCreate(key types.ByteString) *AggregatedReflog {
	cur := &t.root
	for d := 0; d < t.keyWidth; d++ {
		digit := key[d]
		last := d == t.keyWidth-1
		child := atomicx.LazyOnce(&cur.children[digit], func() *node {
			n := &node{}
			if last {
				n.leaf = NewAggregatedReflog(t.aggDescs, t.numShards)
			}
			return n
		})
		cur = child
	}
	return cur.leaf
}

// Get looks up key, returning nil if any level along the path is absent.
func (t *Tree) Get(key types.ByteString) *AggregatedReflog {
	cur := &t.root
	for d := 0; d < t.keyWidth; d++ {
		digit := key[d]
		child := cur.children[digit].Load()
		if child == nil {
			return nil
		}
		cur = child
	}
	return cur.leaf
}

// Insert inserts offset under key, creating the leaf if needed, and
// returns the leaf so the caller can update its aggregate chains (spec.md
// §4.3: "insert... also updates per-record aggregates under MVCC").
func (t *Tree) Insert(key types.ByteString, offset uint64) *AggregatedReflog {
	leaf := t.GetOrCreate(key)
	leaf.Reflog.PushBack(offset)
	return leaf
}

// KeyedReflog pairs a leaf with the key it was found under, for callers
// (e.g. archival's per-key reflog archival walk) that need to name the
// leaf's persisted form rather than just read its contents.
type KeyedReflog struct {
	Key  types.ByteString
	Leaf *AggregatedReflog
}

// RangeLookupKeyed returns, in lexicographic key order, every leaf whose
// key lies in [kmin, kmax] together with that key. Each reflog is yielded
// at most once; reflogs created after the walk begins at a given subtree
// may be missed, matching spec.md §4.3's stated iterator guarantee.
func (t *Tree) RangeLookupKeyed(kmin, kmax types.ByteString) []KeyedReflog {
	var out []KeyedReflog
	// loBounded/hiBounded track, per branch, whether the path taken so far
	// is still pinned to kmin/kmax exactly. A branch stays low-bounded only
	// while every digit chosen so far equals kmin's digit at that depth;
	// the same for high-bounded against kmax. Once a branch picks a digit
	// strictly between the two, it is free on that side for every depth
	// below, and must use the full [0, Fanout-1] range rather than
	// re-deriving bounds from kmin/kmax directly.
	var walk func(n *node, depth int, loBounded, hiBounded bool, prefix types.ByteString)
	walk = func(n *node, depth int, loBounded, hiBounded bool, prefix types.ByteString) {
		if depth == t.keyWidth {
			if n.leaf != nil {
				out = append(out, KeyedReflog{Key: prefix, Leaf: n.leaf})
			}
			return
		}
		lo, hi := 0, Fanout-1
		if loBounded && depth < len(kmin) {
			lo = int(kmin[depth])
		}
		if hiBounded && depth < len(kmax) {
			hi = int(kmax[depth])
		}
		for digit := lo; digit <= hi; digit++ {
			child := n.children[digit].Load()
			if child == nil {
				continue
			}
			next := append(append(types.ByteString(nil), prefix...), byte(digit))
			walk(child, depth+1, loBounded && digit == lo, hiBounded && digit == hi, next)
		}
	}
	walk(&t.root, 0, true, true, nil)
	return out
}

// RangeLookupReflogs is RangeLookupKeyed without the keys, for callers that
// only need each leaf's contents.
func (t *Tree) RangeLookupReflogs(kmin, kmax types.ByteString) []*AggregatedReflog {
	keyed := t.RangeLookupKeyed(kmin, kmax)
	out := make([]*AggregatedReflog, len(keyed))
	for i, kr := range keyed {
		out[i] = kr.Leaf
	}
	return out
}

// ApproxCount sums reflog sizes across [kmin, kmax] without locking,
// matching spec.md §4.3's "used as the planner cost" contract.
func (t *Tree) ApproxCount(kmin, kmax types.ByteString) uint64 {
	var total uint64
	for _, leaf := range t.RangeLookupReflogs(kmin, kmax) {
		total += leaf.Reflog.Size()
	}
	return total
}
