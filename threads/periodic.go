package threads

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Periodic is a CAS-guarded start/stop recurring task, matching
// periodic_task.cc: it sleeps for periodicity minus the time the last run
// took, and logs a warning if a run overshoots its period instead of
// skipping ticks.
type Periodic struct {
	name        string
	periodicity time.Duration
	fn          func()
	log         *zap.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPeriodic(name string, periodicity time.Duration, fn func(), log *zap.Logger) *Periodic {
	if log == nil {
		log = zap.NewNop()
	}
	return &Periodic{name: name, periodicity: periodicity, fn: fn, log: log}
}

// Start begins the loop; a second call while already running is a no-op,
// matching periodic_task's CAS-guarded start.
func (p *Periodic) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop()
	p.log.Info("periodic task started", zap.String("task", p.name))
}

func (p *Periodic) loop() {
	defer close(p.doneCh)
	for {
		start := time.Now()
		p.fn()
		elapsed := time.Since(start)
		if elapsed > p.periodicity {
			p.log.Warn("periodic task overshot its period",
				zap.String("task", p.name), zap.Duration("elapsed", elapsed), zap.Duration("period", p.periodicity))
			select {
			case <-p.stopCh:
				return
			default:
				continue
			}
		}
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.periodicity - elapsed):
		}
	}
}

// Stop signals the loop to exit after its current iteration and joins it,
// matching periodic_task's graceful stop.
func (p *Periodic) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.log.Info("periodic task stopped", zap.String("task", p.name))
}
