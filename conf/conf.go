// Package conf loads the process-wide configuration parameters described in
// spec.md §6, mirroring libconfluo/src/conf/configuration_params.cc: defaults
// are read once, at process start, from the first existing file named by the
// colon-separated CONFLUO_CONF environment variable, and held as plain
// package-level values for the remainder of the process lifetime.
package conf

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// EncodingType names an archival codec, see spec.md §6.
type EncodingType string

const (
	EncodingIdentity   EncodingType = "identity"
	EncodingLZ4        EncodingType = "lz4"
	EncodingEliasGamma EncodingType = "elias-gamma"
)

// Params holds every tunable named in spec.md §6. Defaults match the
// original's archival_defaults/defaults namespaces.
type Params struct {
	MaxMemory                 uint64
	MaxConcurrency            int
	IndexBucketSize           float64
	TimeResolutionNs          uint64
	MemoryMonitorPeriodicMs   uint64
	MonitorWindowMs           uint64
	MonitorPeriodicityMs      uint64
	RelaxedFlushPeriodicityMs uint64

	ArchivalPeriodicityMs          uint64
	ArchivalInMemoryDatalogWindow  uint64
	ArchivalInMemoryFilterWindowNs uint64
	MaxArchivalFileSize            uint64
	DataLogArchivalEncoding        EncodingType
	ReflogArchivalEncoding         EncodingType
}

// Defaults returns the hard-coded defaults, used when CONFLUO_CONF is unset
// or names no existing file.
func Defaults() Params {
	return Params{
		MaxMemory:                 1_000_000_000,
		MaxConcurrency:            runtime.GOMAXPROCS(0),
		IndexBucketSize:           1.0,
		TimeResolutionNs:          uint64(time.Millisecond),
		MemoryMonitorPeriodicMs:   1000,
		MonitorWindowMs:           10 * 1000,
		MonitorPeriodicityMs:      1000,
		RelaxedFlushPeriodicityMs: 1000,

		ArchivalPeriodicityMs:          60000,
		ArchivalInMemoryDatalogWindow:  1 << 26, // 64MiB
		ArchivalInMemoryFilterWindowNs: uint64(10 * time.Minute),
		MaxArchivalFileSize:            1 << 28, // 256MiB
		DataLogArchivalEncoding:        EncodingLZ4,
		ReflogArchivalEncoding:         EncodingEliasGamma,
	}
}

// Load reads CONFLUO_CONF (colon-separated candidate paths, default
// "/etc/conf/confluo.conf:./conf/confluo.conf" when unset), taking the first
// path that exists and parsing it as a flat TOML document whose keys are
// those named in spec.md §6. Missing keys keep their default. Load never
// fails on a missing file — only a malformed one that does exist.
func Load() (Params, error) {
	p := Defaults()

	env := os.Getenv("CONFLUO_CONF")
	if env == "" {
		env = "/etc/conf/confluo.conf:./conf/confluo.conf"
	}

	var path string
	for _, candidate := range strings.Split(env, ":") {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return p, nil
	}

	tree, err := toml.LoadFile(path)
	if err != nil {
		return p, err
	}

	getU64 := func(key string, dflt uint64) uint64 {
		if v, ok := tree.Get(key).(int64); ok {
			return uint64(v)
		}
		return dflt
	}
	getF64 := func(key string, dflt float64) float64 {
		if v, ok := tree.Get(key).(float64); ok {
			return v
		}
		return dflt
	}
	getInt := func(key string, dflt int) int {
		if v, ok := tree.Get(key).(int64); ok {
			return int(v)
		}
		return dflt
	}
	getStr := func(key string, dflt string) string {
		if v, ok := tree.Get(key).(string); ok {
			return v
		}
		return dflt
	}

	p.MaxMemory = getU64("max_memory", p.MaxMemory)
	p.MaxConcurrency = getInt("max_concurrency", p.MaxConcurrency)
	p.IndexBucketSize = getF64("index_block_size", p.IndexBucketSize)
	p.TimeResolutionNs = getU64("time_resolution_ns", p.TimeResolutionNs)
	p.MemoryMonitorPeriodicMs = getU64("memory_monitor_periodicity_ms", p.MemoryMonitorPeriodicMs)
	p.MonitorWindowMs = getU64("monitor_window_ms", p.MonitorWindowMs)
	p.MonitorPeriodicityMs = getU64("monitor_periodicity_ms", p.MonitorPeriodicityMs)
	p.RelaxedFlushPeriodicityMs = getU64("relaxed_flush_periodicity_ms", p.RelaxedFlushPeriodicityMs)

	p.ArchivalPeriodicityMs = getU64("archival_periodicity_ms", p.ArchivalPeriodicityMs)
	p.ArchivalInMemoryDatalogWindow = getU64("archival_in_memory_datalog_window_bytes", p.ArchivalInMemoryDatalogWindow)
	p.ArchivalInMemoryFilterWindowNs = getU64("archival_in_memory_filter_window_ns", p.ArchivalInMemoryFilterWindowNs)
	p.MaxArchivalFileSize = getU64("max_archival_file_size", p.MaxArchivalFileSize)
	p.DataLogArchivalEncoding = EncodingType(getStr("data_log_archival_encoding", string(p.DataLogArchivalEncoding)))
	p.ReflogArchivalEncoding = EncodingType(getStr("reflog_archival_encoding", string(p.ReflogArchivalEncoding)))

	return p, nil
}
