// Package threads implements the background task pool, periodic task
// runner, and thread registration manager of spec.md §4.7/§5, grounded on
// libconfluo/src/threads/{task_pool,periodic_task,thread_manager}.cc.
package threads

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/confluo-db/confluo/errtype"
)

// Manager assigns each writer thread a dense id in [0, MaxConcurrency),
// matching thread_manager.cc's fixed-size CAS-based registration array.
// Aggregate-chain shards are indexed by this id; unregistered writes fail
// with ThreadNotRegistered per spec.md §5.
type Manager struct {
	maxConcurrency int
	sem            *semaphore.Weighted

	mu    sync.Mutex
	slots []bool // true if occupied
}

func NewManager(maxConcurrency int) *Manager {
	return &Manager{
		maxConcurrency: maxConcurrency,
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
		slots:          make([]bool, maxConcurrency),
	}
}

func (m *Manager) MaxConcurrency() int { return m.maxConcurrency }

// Token is a registered caller's dense slot id; callers hold it for the
// duration of their registered session and call Unregister when done.
type Token struct {
	id int
	m  *Manager
}

func (t Token) ID() int { return t.id }

// Register acquires a free slot, blocking if all MaxConcurrency slots are
// occupied (mirroring the original's fixed-size registration array, which
// simply refuses new threads beyond MAX_CONCURRENCY; here we block instead
// of failing, since Go goroutines are cheap and transient).
func (m *Manager) Register(ctx context.Context) (Token, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return Token{}, errtype.Wrap(errtype.ThreadNotRegistered, "acquire thread slot", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, occupied := range m.slots {
		if !occupied {
			m.slots[i] = true
			return Token{id: i, m: m}, nil
		}
	}
	m.sem.Release(1)
	return Token{}, errtype.New(errtype.ThreadNotRegistered, "no free thread slot")
}

// Unregister releases the caller's slot.
func (m *Manager) Unregister(t Token) {
	m.mu.Lock()
	m.slots[t.id] = false
	m.mu.Unlock()
	m.sem.Release(1)
}
