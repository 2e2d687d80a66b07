package radix

import "github.com/confluo-db/confluo/aggregate"

// AggregatedReflog is a Reflog plus a fixed-length array of aggregate
// chains, one per registered aggregate, per spec.md §3.
type AggregatedReflog struct {
	Reflog *Reflog
	Chains []*aggregate.Chain
}

// NewAggregatedReflog allocates a reflog with one chain per descriptor in
// aggs, each sharded across numShards writer slots.
func NewAggregatedReflog(aggs []*aggregate.Info, numShards int) *AggregatedReflog {
	chains := make([]*aggregate.Chain, len(aggs))
	for i, a := range aggs {
		chains[i] = aggregate.NewChain(a.Agg, a.ValID, numShards)
	}
	return &AggregatedReflog{Reflog: NewReflog(), Chains: chains}
}
