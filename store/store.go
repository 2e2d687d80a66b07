// Package store implements the process-level facade of spec.md §6:
// create_multilog/load_multilog/get_multilog/remove_multilog over a
// directory of named multilogs, shared configuration, a shared allocator
// whose memory-pressure callback sweeps every multilog's archiver, and a
// periodic archival task.
//
// Grounded on libconfluo/src/confluo_store.cc and conf/configuration_params.cc.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/multilog"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/storage"
	"github.com/confluo-db/confluo/threads"
)

// Store owns every multilog in a directory tree, a shared allocator and
// archival scheduler, matching spec.md §6's top-level object.
type Store struct {
	dir    string
	params conf.Params
	log    *zap.Logger

	alloc *storage.Allocator
	lock  *flock.Flock

	// pressureLimiter bounds how often a memory-pressure callback can
	// trigger a full archival sweep, since Account() fires on every fresh
	// crossing and archival's frees and mmaps can cross the threshold
	// repeatedly.
	pressureLimiter *rate.Limiter

	mu        sync.RWMutex
	multilogs map[string]*multilog.Multilog

	archivalTask *threads.Periodic
	monitorTask  *threads.Periodic
}

// Open loads configuration via conf.Load(), locks dir (one Store per
// directory, per spec.md §6's single-writer assumption) and prepares an
// empty Store ready for create_multilog/load_multilog.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "create store directory", err)
	}
	p, err := conf.Load()
	if err != nil {
		return nil, errtype.Wrap(errtype.InvalidOperation, "load configuration", err)
	}
	lock := flock.New(filepath.Join(dir, ".store.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "lock store directory", err)
	}
	if !locked {
		return nil, errtype.New(errtype.IllegalState, "store directory already locked by another process")
	}
	s := &Store{
		dir:             dir,
		params:          p,
		log:             log,
		alloc:           storage.NewAllocator(p.MaxMemory, log),
		lock:            lock,
		multilogs:       make(map[string]*multilog.Multilog),
		pressureLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	s.alloc.RegisterPressureCallback(s.onMemoryPressure)
	if p.ArchivalPeriodicityMs > 0 {
		s.archivalTask = threads.NewPeriodic("archival", time.Duration(p.ArchivalPeriodicityMs)*time.Millisecond, s.archiveAll, log)
		s.archivalTask.Start()
	}
	if p.MonitorPeriodicityMs > 0 {
		s.monitorTask = threads.NewPeriodic("monitor", time.Duration(p.MonitorPeriodicityMs)*time.Millisecond, s.evaluateTriggers, log)
		s.monitorTask.Start()
	}
	return s, nil
}

// Close stops the periodic archival and trigger-monitor tasks and releases
// the directory lock.
func (s *Store) Close() error {
	if s.archivalTask != nil {
		s.archivalTask.Stop()
	}
	if s.monitorTask != nil {
		s.monitorTask.Stop()
	}
	s.mu.RLock()
	for _, m := range s.multilogs {
		m.Close()
	}
	s.mu.RUnlock()
	return s.lock.Unlock()
}

func (s *Store) multilogDir(name string) string { return filepath.Join(s.dir, name) }

// CreateMultilog constructs a fresh, empty multilog named name over sc,
// per spec.md §6's create_multilog(name, schema, storage_mode).
func (s *Store) CreateMultilog(name string, sc *schema.Schema, mode multilog.StorageMode, archivalMode multilog.ArchivalMode) (*multilog.Multilog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.multilogs[name]; exists {
		return nil, errtype.New(errtype.AlreadyExists, "multilog "+name+" already exists")
	}
	dir := s.multilogDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "create multilog directory", err)
	}
	m := multilog.New(name, sc, s.params, mode, dir, s.log)
	if archivalMode == multilog.ArchivalOn {
		if err := m.EnableArchival(filepath.Join(dir, "archive"), s.alloc); err != nil {
			return nil, err
		}
	}
	s.multilogs[name] = m
	return m, nil
}

// LoadMultilog reopens a previously created multilog named name, per
// spec.md §6's load_multilog(name). With archivalMode ArchivalOn, the data
// log's archived buckets are restored by replaying the archival action log
// under its directory; secondary indexes, filters and triggers are not
// rebuilt. Schema and storage mode must match what CreateMultilog used,
// since neither is itself persisted by this facade.
func (s *Store) LoadMultilog(name string, sc *schema.Schema, mode multilog.StorageMode, archivalMode multilog.ArchivalMode) (*multilog.Multilog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.multilogs[name]; ok {
		return existing, nil
	}
	dir := s.multilogDir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, errtype.Wrap(errtype.NotFound, "multilog "+name+" not found", err)
	}
	m := multilog.New(name, sc, s.params, mode, dir, s.log)
	if archivalMode == multilog.ArchivalOn {
		if err := m.EnableArchival(filepath.Join(dir, "archive"), s.alloc); err != nil {
			return nil, err
		}
		if err := m.ReplayArchival(); err != nil {
			return nil, errtype.Wrap(errtype.CorruptArchive, "replay archival action log for "+name, err)
		}
	}
	s.multilogs[name] = m
	return m, nil
}

// GetMultilog returns the already-open multilog named name, per spec.md
// §6's get_multilog(name).
func (s *Store) GetMultilog(name string) (*multilog.Multilog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.multilogs[name]
	if !ok {
		return nil, errtype.New(errtype.NotFound, "multilog "+name+" not found")
	}
	return m, nil
}

// RemoveMultilog closes and forgets the multilog named name, per spec.md
// §6's remove_multilog(name). Its on-disk data is left intact; only the
// in-process handle is dropped, mirroring archival's append-only design.
func (s *Store) RemoveMultilog(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.multilogs[name]
	if !ok {
		return errtype.New(errtype.NotFound, "multilog "+name+" not found")
	}
	m.Close()
	delete(s.multilogs, name)
	return nil
}

// Params returns the configuration this Store loaded at Open time.
func (s *Store) Params() conf.Params { return s.params }

// Allocator exposes the shared memory allocator, e.g. for tests that want
// to force a pressure callback.
func (s *Store) Allocator() *storage.Allocator { return s.alloc }

// onMemoryPressure is the allocator's pressure callback (spec.md §4.8):
// since Account() fires on every fresh crossing of the threshold and
// utilization can cross it repeatedly, pressureLimiter collapses a burst of
// crossings into at most one archival sweep per second.
func (s *Store) onMemoryPressure() {
	if !s.pressureLimiter.Allow() {
		return
	}
	s.archiveAll()
}

// archiveAll runs one archival pass over every open multilog; driven by
// onMemoryPressure (spec.md §4.8) and by the periodic archival task
// (spec.md §6's archival_periodicity_ms).
func (s *Store) archiveAll() {
	s.mu.RLock()
	logs := make([]*multilog.Multilog, 0, len(s.multilogs))
	for _, m := range s.multilogs {
		logs = append(logs, m)
	}
	s.mu.RUnlock()
	now := time.Now()
	for _, m := range logs {
		n, err := m.RunArchival()
		if err != nil {
			s.log.Warn("archival pass failed", zap.String("multilog", m.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("archival pass complete", zap.String("multilog", m.Name), zap.Int("buckets_archived", n))
		}
		rn, err := m.RunReflogArchival(now)
		if err != nil {
			s.log.Warn("reflog archival pass failed", zap.String("multilog", m.Name), zap.Error(err))
			continue
		}
		if rn > 0 {
			s.log.Info("reflog archival pass complete", zap.String("multilog", m.Name), zap.Int("buckets_archived", rn))
		}
	}
}

// evaluateTriggers runs one trigger-evaluation pass over every open
// multilog's registered triggers, evaluating each against its filter's
// aggregate as of that multilog's current read-tail. Driven by the
// MonitorPeriodicityMs periodic task, per spec.md §6's "the store runs a
// periodic task every min(MONITOR_PERIODICITY) ms that walks triggers."
func (s *Store) evaluateTriggers() {
	s.mu.RLock()
	logs := make([]*multilog.Multilog, 0, len(s.multilogs))
	for _, m := range s.multilogs {
		logs = append(logs, m)
	}
	s.mu.RUnlock()
	now := time.Now()
	for _, m := range logs {
		m.EvaluateTriggers(now, m.DataLog().ReadTail())
	}
}
