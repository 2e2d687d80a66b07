package storage

import (
	"sync/atomic"
)

// Swappable is the reader-counted pointer cell of spec.md §4.2: a borrow
// obtained via AtomicCopy remains valid until Release is called, even if
// SwapPtr installs a new pointee in between. The old pointee is only handed to its
// release callback once the reader count that was in flight at swap time
// returns to zero.
type Swappable[T any] struct {
	current atomic.Pointer[T]
	readers atomic.Int64

	mu      chan struct{} // binary semaphore guarding swap-vs-swap races
	pending []*pendingFree[T]
}

type pendingFree[T any] struct {
	old     *T
	release func(*T)
}

// NewSwappable returns an EMPTY cell.
func NewSwappable[T any]() *Swappable[T] {
	s := &Swappable[T]{mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

// AtomicInit installs p as current exactly once, transitioning EMPTY to
// PRESENT. Returns false if already initialized.
func (s *Swappable[T]) AtomicInit(p *T) bool {
	return s.current.CompareAndSwap(nil, p)
}

// Borrow is a live reference obtained from AtomicCopy; the caller must call
// Release exactly once.
type Borrow[T any] struct {
	s *Swappable[T]
	p *T
}

// Get returns the borrowed pointer; valid until Release.
func (b Borrow[T]) Get() *T { return b.p }

// Release drops the borrow, potentially unblocking a pending free.
func (b Borrow[T]) Release() {
	if b.s == nil {
		return
	}
	if b.s.readers.Add(-1) == 0 {
		b.s.drainPending()
	}
}

// AtomicCopy increments the reader count and returns a Borrow of the
// current pointee.
func (s *Swappable[T]) AtomicCopy() Borrow[T] {
	s.readers.Add(1)
	p := s.current.Load()
	return Borrow[T]{s: s, p: p}
}

// AtomicLoad returns current without incrementing the reader count; only
// safe for the exclusive owner or inside a swap decision, per spec.md §4.2.
func (s *Swappable[T]) AtomicLoad() *T { return s.current.Load() }

// SwapPtr installs p as current and schedules the old pointee to be handed
// to release once all readers borrowed before the swap have released.
func (s *Swappable[T]) SwapPtr(p *T, release func(*T)) {
	<-s.mu
	old := s.current.Swap(p)
	if old != nil && release != nil {
		if s.readers.Load() == 0 {
			release(old)
		} else {
			s.pending = append(s.pending, &pendingFree[T]{old: old, release: release})
		}
	}
	s.mu <- struct{}{}
}

func (s *Swappable[T]) drainPending() {
	<-s.mu
	if s.readers.Load() == 0 {
		for _, pf := range s.pending {
			pf.release(pf.old)
		}
		s.pending = nil
	}
	s.mu <- struct{}{}
}
