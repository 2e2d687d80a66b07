package threads

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool is the fixed-size worker pool of spec.md §5: "a fixed-size set of
// worker threads consuming a single FIFO queue; submit returns a future."
// Grounded on task_pool.cc's mutex+condvar queue, adapted to an
// errgroup-backed channel of closures — idiomatic Go's equivalent of a
// future-returning task queue.
type Pool struct {
	tasks  chan func(context.Context) error
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts n workers pulling from a single task channel.
func NewPool(ctx context.Context, n int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{tasks: make(chan func(context.Context) error, 256), group: g, ctx: gctx, cancel: cancel}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t, ok := <-p.tasks:
					if !ok {
						return nil
					}
					if err := t(gctx); err != nil {
						return err
					}
				}
			}
		})
	}
	return p
}

// Future is returned by Submit; Wait blocks until the task completes.
type Future struct{ done chan error }

func (f Future) Wait() error { return <-f.done }

// Submit enqueues a task, returning a Future the caller can wait on.
func (p *Pool) Submit(task func(context.Context) error) Future {
	fut := Future{done: make(chan error, 1)}
	p.tasks <- func(ctx context.Context) error {
		err := task(ctx)
		fut.done <- err
		return err
	}
	return fut
}

// Stop signals every worker to drain and exit, then waits for them.
func (p *Pool) Stop() error {
	p.cancel()
	close(p.tasks)
	return p.group.Wait()
}
