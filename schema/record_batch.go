package schema

import "sort"

// RecordBlock is one time-bucketed group of contiguous, back-to-back
// records within a RecordBatch, matching record_block in record_batch.cc.
type RecordBlock struct {
	TimeBlock uint64
	NRecords  int
	Data      []byte // NRecords records of RecordSize bytes each, concatenated
}

// RecordBatch is a set of RecordBlocks sorted by TimeBlock, the unit the
// batched filter-update path of spec.md §4.6 consumes.
type RecordBatch struct {
	Blocks []RecordBlock
}

// BatchBuilder buckets appended records by floor(timestamp/timeBlockSize)
// into per-bucket byte streams, matching record_batch_builder::add_record;
// GetBatch emits them sorted by time block, matching scenario §8.1.
type BatchBuilder struct {
	schema        *Schema
	timeBlockSize uint64
	buckets       map[uint64][]byte
	counts        map[uint64]int
}

func NewBatchBuilder(s *Schema, timeBlockSize uint64) *BatchBuilder {
	return &BatchBuilder{
		schema:        s,
		timeBlockSize: timeBlockSize,
		buckets:       make(map[uint64][]byte),
		counts:        make(map[uint64]int),
	}
}

// AddRecord appends one record_size-byte record, bucketing it by its
// timestamp column.
func (b *BatchBuilder) AddRecord(record []byte) {
	ts := b.schema.TimeOf(record)
	block := ts / b.timeBlockSize
	b.buckets[block] = append(b.buckets[block], record...)
	b.counts[block]++
}

// GetBatch returns the accumulated blocks sorted by TimeBlock ascending.
func (b *BatchBuilder) GetBatch() RecordBatch {
	blocks := make([]uint64, 0, len(b.buckets))
	for tb := range b.buckets {
		blocks = append(blocks, tb)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	out := make([]RecordBlock, 0, len(blocks))
	for _, tb := range blocks {
		out = append(out, RecordBlock{TimeBlock: tb, NRecords: b.counts[tb], Data: b.buckets[tb]})
	}
	return RecordBatch{Blocks: out}
}
