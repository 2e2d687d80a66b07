// Package datalog implements the append-only data log with read-tail
// visibility control of spec.md §3/§4's core data flow: writers reserve a
// range with a fetch-add on the write-tail, copy record bytes in, and only
// after every index/filter update for that record has linearized does the
// read-tail advance to publish it.
package datalog

import (
	"github.com/confluo-db/confluo/container/monolog"
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/internal/atomicx"
	"github.com/confluo-db/confluo/storage"
)

// DataLog is a linear monolog of bytes with a write-tail (reserved, maybe
// not yet visible) and a read-tail (visible) pair, per spec.md §4.1/§4.6.
type DataLog struct {
	storage   *monolog.Linear
	readTail  atomicx.Tail
}

func New(storage *monolog.Linear) *DataLog { return &DataLog{storage: storage} }

// Reserve reserves n bytes by fetch-add on the write-tail; returns the
// offset the caller must copy its record bytes to via WriteAt.
func (d *DataLog) Reserve(n uint64) (uint64, error) { return d.storage.Reserve(n) }

// WriteAt copies record bytes into a previously reserved range.
func (d *DataLog) WriteAt(offset uint64, record []byte) error {
	return d.storage.WriteAt(offset, record)
}

// Publish advances the read-tail to newTail via CAS, called only after the
// writer has finished every index and filter update for the range
// [oldTail, newTail), matching spec.md §4's "read-tail is advanced to
// publish the record" step. Multiple concurrent publishers of
// non-adjacent ranges retry until their predecessor's publish lands, since
// the read-tail must advance contiguously.
func (d *DataLog) Publish(oldTail, newTail uint64) bool {
	return d.readTail.CAS(oldTail, newTail)
}

// ReadTail returns the largest offset a reader may observe.
func (d *DataLog) ReadTail() uint64 { return d.readTail.Load() }

// RestoreTail advances both the write-tail and read-tail to tail, used
// once at load time after archival replay has determined the highest
// offset known durable. It is a caller error to call this once any
// Reserve/Publish has happened on this DataLog.
func (d *DataLog) RestoreTail(tail uint64) {
	d.storage.RestoreTail(tail)
	d.readTail.Store(tail)
}

// WriteTail returns the largest offset reserved by writers, possibly not
// yet visible.
func (d *DataLog) WriteTail() uint64 { return d.storage.Size() }

// Read returns n bytes at offset, failing with InvalidAccess if any part of
// the range is at or beyond the read-tail, matching spec.md §3's "readers
// never observe offsets >= read-tail."
func (d *DataLog) Read(offset uint64, n int, decode func(storage.Metadata, []byte) ([]byte, error)) ([]byte, error) {
	if offset+uint64(n) > d.ReadTail() {
		return nil, errtype.New(errtype.InvalidAccess, "datalog: read beyond read-tail")
	}
	return d.storage.ReadAt(offset, n, decode)
}
