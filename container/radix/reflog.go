// Package radix implements the fixed-fanout radix tree secondary index of
// spec.md §3/§4.3, its reference logs (reflogs), and aggregated reflogs.
// Grounded on libds's radix_tree and libconfluo's reflog/aggregated_reflog.
package radix

import "github.com/confluo-db/confluo/container/monolog"

// Reflog is a monolog<uint64> of data-log offsets matching a key, per
// spec.md §3: ordered by insertion, duplicate-free because the core never
// pushes the same offset twice.
type Reflog struct {
	m *monolog.Exp2[uint64]
}

func NewReflog() *Reflog { return &Reflog{m: monolog.NewExp2[uint64]()} }

func (r *Reflog) PushBack(offset uint64) uint64 { return r.m.PushBack(offset) }

func (r *Reflog) Size() uint64 { return r.m.Size() }

func (r *Reflog) Get(i uint64) (uint64, error) { return r.m.Get(i) }

// ReserveBatch reserves n contiguous slots in one fetch-add, for the
// batched filter-update path of spec.md §4.6.
func (r *Reflog) ReserveBatch(n uint64) uint64 { return r.m.Reserve(n) }

func (r *Reflog) SetUnsafe(idx uint64, offset uint64) { r.m.SetUnsafe(idx, offset) }

// All returns every offset currently reserved, in insertion order.
func (r *Reflog) All() []uint64 {
	n := r.Size()
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := r.Get(i)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}
