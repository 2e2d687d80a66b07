// Package archival implements the archival engine of spec.md §6: full
// monolog.Linear data-log buckets below the memory freeze offset are
// encoded, written to an incremental file, then swapped in place of their
// in-memory bucket via storage.Swappable so concurrent readers are never
// torn. Reflog buckets belonging to filter radix trees are encoded and
// written to incremental files keyed by their tree key rather than a bucket
// index; their in-memory reflogs are not swapped out.
//
// Grounded on libconfluo/src/archival/monolog_linear_archiver.cc,
// reflog_archiver.cc and storage/encoder.cc.
package archival

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/confluo-db/confluo/archival/codec"
	"github.com/confluo-db/confluo/archival/format"
	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/container/monolog"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/storage"
)

// DataLogArchiver walks a monolog.Linear's full buckets below a freeze
// offset and archives each one exactly once.
type DataLogArchiver struct {
	linear    *monolog.Linear
	alloc     *storage.Allocator
	dir       string
	enc       conf.EncodingType
	log       *zap.Logger
	lock      *flock.Flock
	archived  *roaring.Bitmap
	regions   *lru.Cache[int, *storage.MmapRegion]
	actionLog *ActionLog
}

// NewDataLogArchiver prepares an archiver for linear, writing incremental
// files under dir and encoding buckets with enc. regionCacheSize bounds how
// many archived buckets' mmap region handles the archiver's LRU cache holds
// (0 picks a small default); evicting a handle does not unmap its region.
func NewDataLogArchiver(linear *monolog.Linear, alloc *storage.Allocator, dir string, enc conf.EncodingType, regionCacheSize int, log *zap.Logger) (*DataLogArchiver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if regionCacheSize <= 0 {
		regionCacheSize = 16
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "create archival dir", err)
	}
	cache, err := lru.New[int, *storage.MmapRegion](regionCacheSize)
	if err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "create mmap region cache", err)
	}
	actionLog, err := NewActionLog(filepath.Join(dir, "actions.log"))
	if err != nil {
		return nil, err
	}
	return &DataLogArchiver{
		linear:    linear,
		alloc:     alloc,
		dir:       dir,
		enc:       enc,
		log:       log,
		lock:      flock.New(filepath.Join(dir, ".archival.lock")),
		archived:  roaring.New(),
		regions:   cache,
		actionLog: actionLog,
	}, nil
}

func (a *DataLogArchiver) bucketPath(bucket int) string {
	return filepath.Join(a.dir, fmt.Sprintf("datalog_bucket_%d.arc", bucket))
}

// ArchiveUpTo archives every full, not-yet-archived bucket strictly below
// readTail. It is safe to call repeatedly (e.g. from a threads.Periodic);
// buckets already archived are skipped.
func (a *DataLogArchiver) ArchiveUpTo(readTail uint64) (int, error) {
	locked, err := a.lock.TryLock()
	if err != nil {
		return 0, errtype.Wrap(errtype.DurabilityFailed, "acquire archival lock", err)
	}
	if !locked {
		return 0, nil // another archival pass is already running
	}
	defer a.lock.Unlock()

	n := a.linear.NumFullBuckets(readTail)
	archivedCount := 0
	for b := 0; b < n; b++ {
		if a.archived.Contains(uint32(b)) {
			continue
		}
		if err := a.archiveBucketOnce(b); err != nil {
			return archivedCount, err
		}
		a.archived.Add(uint32(b))
		archivedCount++
	}
	return archivedCount, nil
}

// archiveBucketOnce encodes bucket b to its incremental file and swaps the
// Swappable pointer to the archived, mmap'd form. A transient I/O failure
// is retried exactly once, per spec.md §6's failure-handling note.
func (a *DataLogArchiver) archiveBucketOnce(b int) error {
	op := func() error { return a.archiveBucket(b) }
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	if err := backoff.Retry(op, policy); err != nil {
		return errtype.Wrap(errtype.DurabilityFailed, fmt.Sprintf("archive data log bucket %d", b), err)
	}
	return nil
}

func (a *DataLogArchiver) archiveBucket(b int) error {
	sw, ok := a.linear.BucketSwappable(b)
	if !ok {
		return errtype.New(errtype.InvalidAccess, "archival: bucket not allocated")
	}
	borrow := sw.AtomicCopy()
	blk := borrow.Get()
	if blk.Meta.State == storage.Archived {
		borrow.Release()
		return nil
	}
	data := append([]byte(nil), blk.Data...)
	borrow.Release()

	cd, err := codec.For(a.enc)
	if err != nil {
		return err
	}
	encoded, err := cd.Encode(data)
	if err != nil {
		return err
	}

	path := a.bucketPath(b)
	f, err := os.Create(path)
	if err != nil {
		return errtype.Wrap(errtype.DurabilityFailed, "create bucket archive file", err)
	}
	header := format.LinearBucketHeader{
		BucketIdx:   uint64(b),
		DataSize:    uint64(len(data)),
		EncodedSize: uint64(len(encoded)),
		Encoding:    a.enc,
	}
	if err := format.WriteLinearBucketHeader(f, header); err != nil {
		f.Close()
		return errtype.Wrap(errtype.DurabilityFailed, "write bucket archive header", err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		return errtype.Wrap(errtype.DurabilityFailed, "write bucket archive payload", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errtype.Wrap(errtype.DurabilityFailed, "sync bucket archive file", err)
	}
	f.Close()

	// Commit the action log record before mmap-ing and swapping the
	// pointer, per spec.md §6's ordering: the write to the incremental
	// file and its transaction-log record are both durable before the
	// in-memory bucket is ever replaced.
	if err := a.actionLog.Append(ActionRecord{
		Kind:                ActionDataLogBucket,
		KeyOrOffset:         uint64(b),
		BucketSize:          uint64(len(data)),
		DataLogArchivalTail: uint64(b+1) * uint64(a.linear.BucketSize()),
	}); err != nil {
		return errtype.Wrap(errtype.DurabilityFailed, "commit archival action record", err)
	}

	archivedBlock, err := a.loadArchivedBlock(b)
	if err != nil {
		return err
	}
	sw.SwapPtr(archivedBlock, func(old *storage.Block) {
		a.alloc.FreeHeap(len(old.Data))
	})
	a.log.Info("archived data log bucket", zap.Int("bucket", b), zap.Int("raw_bytes", len(data)), zap.Int("encoded_bytes", len(encoded)))
	return nil
}

// headerByteSize mirrors the exact byte layout WriteLinearBucketHeader
// produces, so the mmap region can be offset past it without re-parsing.
func headerByteSize(h format.LinearBucketHeader) int {
	return 4 + 8 + 8 + 8 + 2 + len(h.Encoding)
}

// loadArchivedBlock opens bucket b's already-written incremental file,
// mmaps its payload past the header and returns it as an ARCHIVED Block.
// Shared by archiveBucket (right after writing the file) and Replay
// (reopening a file written in a prior process).
func (a *DataLogArchiver) loadArchivedBlock(b int) (*storage.Block, error) {
	path := a.bucketPath(b)
	hf, err := os.Open(path)
	if err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "open bucket archive file", err)
	}
	header, err := format.ReadLinearBucketHeader(hf)
	hf.Close()
	if err != nil {
		return nil, errtype.Wrap(errtype.CorruptArchive, "read bucket archive header", err)
	}
	headerSize := headerByteSize(header)
	region, err := a.alloc.MmapFile(path, int64(headerSize), int(header.EncodedSize))
	if err != nil {
		return nil, err
	}
	a.regions.Add(b, region)
	return storage.NewArchivedBlock(region.Bytes(), int(header.DataSize), header.Encoding), nil
}

// Replay restores every bucket this archiver committed to its action log in
// a prior process: each is reopened from its incremental file, mmap'd and
// installed as that bucket's Swappable pointer, marked archived so a
// subsequent ArchiveUpTo skips it, matching spec.md §6's "in-memory radix
// trees are rehydrated by mmap-ing archived buckets and atomic-initializing
// their swappable pointers." It returns the highest data-log offset any
// replayed action recorded as durable, so the caller can restore the data
// log's tails past the archived prefix.
func (a *DataLogArchiver) Replay() (uint64, error) {
	records, err := a.actionLog.Replay()
	if err != nil {
		return 0, err
	}
	var tail uint64
	for _, rec := range records {
		if rec.Kind != ActionDataLogBucket {
			continue
		}
		b := int(rec.KeyOrOffset)
		if !a.archived.Contains(uint32(b)) {
			blk, err := a.loadArchivedBlock(b)
			if err != nil {
				return tail, errtype.Wrap(errtype.CorruptArchive, fmt.Sprintf("replay data log bucket %d", b), err)
			}
			if _, err := a.linear.RestoreArchivedBucket(b, blk); err != nil {
				return tail, err
			}
			a.archived.Add(uint32(b))
		}
		if rec.DataLogArchivalTail > tail {
			tail = rec.DataLogArchivalTail
		}
	}
	if tail > 0 {
		a.log.Info("replayed archival action log", zap.Uint64("restored_tail", tail), zap.Int("buckets", int(a.archived.GetCardinality())))
	}
	return tail, nil
}

// Decode is the monolog.Linear.ReadAt callback for an archived bucket: it
// runs the bucket's codec over the still-encoded mmap'd bytes.
func Decode(meta storage.Metadata, encoded []byte) ([]byte, error) {
	cd, err := codec.For(meta.Encoding)
	if err != nil {
		return nil, err
	}
	return cd.Decode(encoded, int(meta.DataSize))
}

// NumArchivedBuckets reports how many buckets this archiver has archived,
// for diagnostics and tests.
func (a *DataLogArchiver) NumArchivedBuckets() int { return int(a.archived.GetCardinality()) }

// ReflogArchiver encodes and persists a single radix-tree leaf's reflog
// contents, keyed by its tree key, for the index/filter archival paths
// named in spec.md §6. Unlike the data log's fixed bucket grid, reflog
// buckets are archived individually by the caller (typically while walking
// a filter's or index's radix tree) rather than swept by bucket number.
type ReflogArchiver struct {
	dir string
	enc conf.EncodingType
	log *zap.Logger
}

func NewReflogArchiver(dir string, enc conf.EncodingType, log *zap.Logger) (*ReflogArchiver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "create reflog archival dir", err)
	}
	return &ReflogArchiver{dir: dir, enc: enc, log: log}, nil
}

func (a *ReflogArchiver) path(key []byte) string {
	return filepath.Join(a.dir, fmt.Sprintf("reflog_%x.arc", key))
}

// Archive encodes offsets (the reflog's contents, as uint64s) and writes
// them under key's archive file, returning the number of bytes written.
func (a *ReflogArchiver) Archive(key []byte, offsets []uint64) (int, error) {
	raw := make([]byte, len(offsets)*8)
	for i, off := range offsets {
		binary.LittleEndian.PutUint64(raw[i*8:i*8+8], off)
	}
	cd, err := codec.For(a.enc)
	if err != nil {
		return 0, err
	}
	encoded, err := cd.Encode(raw)
	if err != nil {
		return 0, err
	}
	f, err := os.Create(a.path(key))
	if err != nil {
		return 0, errtype.Wrap(errtype.DurabilityFailed, "create reflog archive file", err)
	}
	defer f.Close()
	header := format.ReflogBucketHeader{
		Key:         key,
		NumOffsets:  uint64(len(offsets)),
		EncodedSize: uint64(len(encoded)),
		Encoding:    a.enc,
	}
	if err := format.WriteReflogBucketHeader(f, header); err != nil {
		return 0, errtype.Wrap(errtype.DurabilityFailed, "write reflog archive header", err)
	}
	if _, err := f.Write(encoded); err != nil {
		return 0, errtype.Wrap(errtype.DurabilityFailed, "write reflog archive payload", err)
	}
	return len(encoded), nil
}

// Load reads back a previously archived reflog's offsets.
func (a *ReflogArchiver) Load(key []byte) ([]uint64, error) {
	f, err := os.Open(a.path(key))
	if err != nil {
		return nil, errtype.Wrap(errtype.NotFound, "open reflog archive file", err)
	}
	defer f.Close()
	header, err := format.ReadReflogBucketHeader(f)
	if err != nil {
		return nil, errtype.Wrap(errtype.CorruptArchive, "read reflog archive header", err)
	}
	encoded := make([]byte, header.EncodedSize)
	if _, err := f.Read(encoded); err != nil {
		return nil, errtype.Wrap(errtype.CorruptArchive, "read reflog archive payload", err)
	}
	cd, err := codec.For(header.Encoding)
	if err != nil {
		return nil, err
	}
	raw, err := cd.Decode(encoded, int(header.NumOffsets)*8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, header.NumOffsets)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8 : i*8+8])
	}
	return out, nil
}

// Throttle bounds how often a caller (typically a threads.Periodic task)
// may invoke ArchiveUpTo, matching spec.md §6's periodicity control.
type Throttle struct {
	min  time.Duration
	last time.Time
}

func NewThrottle(min time.Duration) *Throttle { return &Throttle{min: min} }

func (t *Throttle) Allow(now time.Time) bool {
	if now.Sub(t.last) < t.min {
		return false
	}
	t.last = now
	return true
}
