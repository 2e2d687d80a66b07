package archival

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/container/monolog"
	"github.com/confluo-db/confluo/storage"
)

func TestDataLogArchiverArchivesFullBucketsAndReadsBackTransparently(t *testing.T) {
	require := require.New(t)
	const bucketSize = 64
	lin := monolog.NewLinear(bucketSize, 4)

	// Fill exactly one bucket plus a partial second bucket.
	off, err := lin.Reserve(bucketSize)
	require.NoError(err)
	payload := make([]byte, bucketSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(lin.WriteAt(off, payload))

	_, err = lin.Reserve(8) // partial bucket 1, not archivable yet
	require.NoError(err)

	alloc := storage.NewAllocator(0, nil)
	a, err := NewDataLogArchiver(lin, alloc, t.TempDir(), conf.EncodingLZ4, 0, nil)
	require.NoError(err)

	n, err := a.ArchiveUpTo(bucketSize) // exactly one full bucket below the read tail
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(1, a.NumArchivedBuckets())

	got, err := lin.ReadAt(0, bucketSize, Decode)
	require.NoError(err)
	require.Equal(payload, got)

	// Archiving again is a no-op: the bucket is already marked archived.
	n, err = a.ArchiveUpTo(bucketSize)
	require.NoError(err)
	require.Equal(0, n)
}

func TestDataLogArchiverReplayRehydratesAfterRestart(t *testing.T) {
	require := require.New(t)
	const bucketSize = 64
	dir := t.TempDir()

	lin := monolog.NewLinear(bucketSize, 4)
	off, err := lin.Reserve(bucketSize)
	require.NoError(err)
	payload := make([]byte, bucketSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(lin.WriteAt(off, payload))

	alloc := storage.NewAllocator(0, nil)
	a, err := NewDataLogArchiver(lin, alloc, dir, conf.EncodingLZ4, 0, nil)
	require.NoError(err)
	n, err := a.ArchiveUpTo(bucketSize)
	require.NoError(err)
	require.Equal(1, n)

	// Simulate a process restart: a brand new, empty Linear and a brand
	// new archiver over the same on-disk directory.
	lin2 := monolog.NewLinear(bucketSize, 4)
	alloc2 := storage.NewAllocator(0, nil)
	a2, err := NewDataLogArchiver(lin2, alloc2, dir, conf.EncodingLZ4, 0, nil)
	require.NoError(err)

	tail, err := a2.Replay()
	require.NoError(err)
	require.Equal(uint64(bucketSize), tail)
	require.Equal(1, a2.NumArchivedBuckets())

	got, err := lin2.ReadAt(0, bucketSize, Decode)
	require.NoError(err)
	require.Equal(payload, got)

	// Replaying twice does not double-count or re-mmap the bucket.
	tail, err = a2.Replay()
	require.NoError(err)
	require.Equal(uint64(bucketSize), tail)
	require.Equal(1, a2.NumArchivedBuckets())
}

func TestReflogArchiverRoundtrip(t *testing.T) {
	require := require.New(t)
	a, err := NewReflogArchiver(t.TempDir(), conf.EncodingEliasGamma, nil)
	require.NoError(err)

	key := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	offsets := []uint64{0, 64, 128, 256}
	n, err := a.Archive(key, offsets)
	require.NoError(err)
	require.Greater(n, 0)

	got, err := a.Load(key)
	require.NoError(err)
	require.Equal(offsets, got)
}

func TestThrottleAllowsAtMostOncePerInterval(t *testing.T) {
	require := require.New(t)
	th := NewThrottle(time.Minute)
	now := time.Now()
	require.True(th.Allow(now))
	require.False(th.Allow(now.Add(time.Second)))
	require.True(th.Allow(now.Add(time.Minute)))
}
