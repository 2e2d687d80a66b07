package monolog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/internal/atomicx"
	"github.com/confluo-db/confluo/internal/numutil"
	"github.com/confluo-db/confluo/storage"
)

// Durability selects how a Linear monolog's buckets are backed.
type Durability int

const (
	InMemory Durability = iota
	DurableRelaxed        // mmap + periodic msync
	DurableStrict         // mmap + msync per append
)

// DefaultBucketSize is the byte size of one Linear bucket; spec.md §4.1
// leaves this a tunable, not a fixed architectural constant.
const DefaultBucketSize = 1 << 24 // 16 MiB

// DefaultMaxBuckets bounds the address space a Linear monolog can grow to.
const DefaultMaxBuckets = 1 << 16

// Linear is the linear-layout monolog used for the data log: MAX_BUCKETS
// fixed-size buckets, optionally mmap-backed with relaxed or strict
// durability. Every bucket is held behind a storage.Swappable so archival
// can replace an in-memory bucket with an mmap'd, compressed one without
// tearing concurrent readers.
type Linear struct {
	tail       atomicx.Tail
	bucketSize int
	maxBuckets int
	durability Durability
	dir        string // backing directory for durable variants

	mu      sync.Mutex
	buckets []*storage.Swappable[storage.Block]
	files   []*os.File
	maps    []mmap.MMap
}

// NewLinear constructs an in-memory Linear monolog.
func NewLinear(bucketSize, maxBuckets int) *Linear {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}
	return &Linear{bucketSize: bucketSize, maxBuckets: maxBuckets, durability: InMemory}
}

// NewDurableLinear constructs a Linear monolog whose buckets are backed by
// files under dir, synced per the given durability mode.
func NewDurableLinear(dir string, bucketSize, maxBuckets int, durability Durability) *Linear {
	l := NewLinear(bucketSize, maxBuckets)
	l.dir = dir
	l.durability = durability
	return l
}

func (l *Linear) Size() uint64 { return l.tail.Load() }

func (l *Linear) Reserve(n uint64) (uint64, error) {
	off := l.tail.FetchAdd(n)
	if numutil.CeilDiv(int(off+n), l.bucketSize) > l.maxBuckets {
		return 0, errtype.New(errtype.InvalidOperation, "monolog linear: capacity exceeded")
	}
	return off, nil
}

func (l *Linear) bucketFor(idx uint64) (int, int) {
	bucket := int(idx) / l.bucketSize
	offset := int(idx) % l.bucketSize
	return bucket, offset
}

func (l *Linear) ensureBucket(bucket int) (*storage.Swappable[storage.Block], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.buckets) <= bucket {
		l.buckets = append(l.buckets, nil)
		l.files = append(l.files, nil)
		l.maps = append(l.maps, nil)
	}
	if l.buckets[bucket] != nil {
		return l.buckets[bucket], nil
	}
	sw := storage.NewSwappable[storage.Block]()
	var data []byte
	if l.durability == InMemory || l.dir == "" {
		data = make([]byte, l.bucketSize)
	} else {
		path := filepath.Join(l.dir, fmt.Sprintf("bucket_%d.dat", bucket))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, errtype.Wrap(errtype.DurabilityFailed, "open durable bucket", err)
		}
		if err := f.Truncate(int64(l.bucketSize)); err != nil {
			f.Close()
			return nil, errtype.Wrap(errtype.DurabilityFailed, "truncate durable bucket", err)
		}
		m, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, errtype.Wrap(errtype.DurabilityFailed, "mmap durable bucket", err)
		}
		l.files[bucket] = f
		l.maps[bucket] = m
		data = m
	}
	sw.AtomicInit(storage.NewHeapBlock(data))
	l.buckets[bucket] = sw
	return sw, nil
}

// WriteAt writes b starting at byte offset idx, crossing at most one bucket
// boundary per call is the caller's responsibility (the data log never
// straddles buckets because BucketSize is chosen to exceed any record).
func (l *Linear) WriteAt(idx uint64, b []byte) error {
	bucket, off := l.bucketFor(idx)
	sw, err := l.ensureBucket(bucket)
	if err != nil {
		return err
	}
	borrow := sw.AtomicCopy()
	defer borrow.Release()
	blk := borrow.Get()
	if blk.Meta.State == storage.Archived {
		return errtype.New(errtype.InvalidOperation, "monolog linear: write to archived bucket")
	}
	copy(blk.Data[off:], b)
	if l.durability == DurableStrict && bucket < len(l.maps) && l.maps[bucket] != nil {
		if err := l.maps[bucket].Flush(); err != nil {
			return errtype.Wrap(errtype.DurabilityFailed, "msync durable bucket", err)
		}
	}
	return nil
}

// ReadAt reads n bytes starting at byte offset idx, decoding the bucket's
// payload if it has been archived with a codec.
func (l *Linear) ReadAt(idx uint64, n int, decode func(storage.Metadata, []byte) ([]byte, error)) ([]byte, error) {
	bucket, off := l.bucketFor(idx)
	l.mu.Lock()
	sw := l.buckets[bucket]
	l.mu.Unlock()
	if sw == nil {
		return nil, errtype.New(errtype.InvalidAccess, "monolog linear: read from unallocated bucket")
	}
	borrow := sw.AtomicCopy()
	defer borrow.Release()
	blk := borrow.Get()
	if blk.Meta.State == storage.Archived {
		decoded, err := decode(blk.Meta, blk.Data)
		if err != nil {
			return nil, err
		}
		return decoded[off : off+n], nil
	}
	out := make([]byte, n)
	copy(out, blk.Data[off:off+n])
	return out, nil
}

// BucketSwappable returns the Swappable pointer owning the given bucket
// index, used by the archival engine to swap an in-memory bucket for an
// archived, mmap'd one.
func (l *Linear) BucketSwappable(bucket int) (*storage.Swappable[storage.Block], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket >= len(l.buckets) || l.buckets[bucket] == nil {
		return nil, false
	}
	return l.buckets[bucket], true
}

// RestoreArchivedBucket installs blk (already ARCHIVED, mmap-backed) as
// bucket's Swappable pointer without first allocating an in-memory bucket,
// used by archival replay at load time to rehydrate a bucket nothing has
// reserved into in this process yet.
func (l *Linear) RestoreArchivedBucket(bucket int, blk *storage.Block) (*storage.Swappable[storage.Block], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.buckets) <= bucket {
		l.buckets = append(l.buckets, nil)
		l.files = append(l.files, nil)
		l.maps = append(l.maps, nil)
	}
	if l.buckets[bucket] != nil {
		return l.buckets[bucket], nil
	}
	sw := storage.NewSwappable[storage.Block]()
	sw.AtomicInit(blk)
	l.buckets[bucket] = sw
	return sw, nil
}

// RestoreTail sets the write-tail directly, used once archival replay has
// determined the highest offset known durable; subsequent Reserve calls
// continue past it, matching spec.md §6's "reflog.write_tail is restored
// via CAS so subsequent appends continue past the archived prefix."
func (l *Linear) RestoreTail(tail uint64) { l.tail.Store(tail) }

// FlushRelaxed msyncs every allocated bucket's mmap when this Linear's
// durability mode is DurableRelaxed. A no-op for InMemory and DurableStrict
// (the latter already syncs per-append in WriteAt). Driven by a periodic
// task so DurableRelaxed ("mmap + periodic msync") actually differs from an
// unsynced mmap at runtime.
func (l *Linear) FlushRelaxed() error {
	if l.durability != DurableRelaxed {
		return nil
	}
	l.mu.Lock()
	maps := append([]mmap.MMap(nil), l.maps...)
	l.mu.Unlock()
	for _, m := range maps {
		if m == nil {
			continue
		}
		if err := m.Flush(); err != nil {
			return errtype.Wrap(errtype.DurabilityFailed, "msync relaxed durable bucket", err)
		}
	}
	return nil
}

func (l *Linear) BucketSize() int { return l.bucketSize }

// NumFullBuckets returns how many buckets are entirely below offset tail,
// i.e. eligible for archival in full.
func (l *Linear) NumFullBuckets(tail uint64) int { return int(tail) / l.bucketSize }
