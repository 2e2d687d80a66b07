package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwappableAtomicInitOnlyOnce(t *testing.T) {
	require := require.New(t)
	s := NewSwappable[int]()
	a, b := 1, 2
	require.True(s.AtomicInit(&a))
	require.False(s.AtomicInit(&b))
	require.Equal(&a, s.AtomicLoad())
}

func TestSwappableBorrowSurvivesConcurrentSwap(t *testing.T) {
	require := require.New(t)
	s := NewSwappable[int]()
	a := 1
	s.AtomicInit(&a)

	borrow := s.AtomicCopy()
	require.Equal(&a, borrow.Get())

	b := 2
	released := false
	s.SwapPtr(&b, func(p *int) { released = true })
	// Old pointee not yet released: borrow from before the swap is still live.
	require.False(released)
	require.Equal(&a, borrow.Get())

	borrow.Release()
	require.True(released)
}

func TestSwappableReleasesImmediatelyWhenNoReaders(t *testing.T) {
	require := require.New(t)
	s := NewSwappable[int]()
	a, b := 1, 2
	s.AtomicInit(&a)

	released := false
	s.SwapPtr(&b, func(p *int) { released = true })
	require.True(released)
}
