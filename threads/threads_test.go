package threads

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerRegisterUnregisterReusesSlots(t *testing.T) {
	require := require.New(t)
	m := NewManager(2)

	tok1, err := m.Register(context.Background())
	require.NoError(err)
	tok2, err := m.Register(context.Background())
	require.NoError(err)
	require.NotEqual(tok1.ID(), tok2.ID())

	m.Unregister(tok1)
	tok3, err := m.Register(context.Background())
	require.NoError(err)
	require.Equal(tok1.ID(), tok3.ID())
}

func TestManagerRegisterBlocksPastCapacity(t *testing.T) {
	require := require.New(t)
	m := NewManager(1)
	_, err := m.Register(context.Background())
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Register(ctx)
	require.Error(err)
}

func TestPoolSubmitRunsAndFutureWaits(t *testing.T) {
	require := require.New(t)
	p := NewPool(context.Background(), 2)
	defer p.Stop()

	var n atomic.Int32
	fut := p.Submit(func(context.Context) error {
		n.Add(1)
		return nil
	})
	require.NoError(fut.Wait())
	require.Equal(int32(1), n.Load())
}

func TestPeriodicStartStop(t *testing.T) {
	require := require.New(t)
	var runs atomic.Int32
	p := NewPeriodic("test", 5*time.Millisecond, func() { runs.Add(1) }, nil)

	p.Start()
	time.Sleep(40 * time.Millisecond)
	p.Stop()

	require.GreaterOrEqual(runs.Load(), int32(2))

	// A second Stop is a no-op, matching the CAS-guarded contract.
	p.Stop()
}

func TestPeriodicStartIsIdempotentWhileRunning(t *testing.T) {
	require := require.New(t)
	var runs atomic.Int32
	p := NewPeriodic("test", 5*time.Millisecond, func() { runs.Add(1) }, nil)
	p.Start()
	p.Start() // second Start before Stop: no-op per CAS guard
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	require.Greater(runs.Load(), int32(0))
}
