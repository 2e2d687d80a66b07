package schema

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/types"
)

func makeRecord(sc *Schema, ts uint64, value int64) []byte {
	rec := make([]byte, sc.RecordSize())
	binary.LittleEndian.PutUint64(rec[0:8], ts)
	col, _ := sc.ColumnByName("value")
	col.WriteNumeric(rec, types.FromInt64(types.Long, value))
	return rec
}

func TestBatchBuilderGroupsByTimeBlock(t *testing.T) {
	require := require.New(t)
	sc := buildTestSchema(t)
	const blockSize = 100
	b := NewBatchBuilder(sc, blockSize)

	b.AddRecord(makeRecord(sc, 150, 1))
	b.AddRecord(makeRecord(sc, 50, 2))
	b.AddRecord(makeRecord(sc, 160, 3))
	b.AddRecord(makeRecord(sc, 250, 4))

	batch := b.GetBatch()
	require.Len(batch.Blocks, 3)
	require.Equal(uint64(0), batch.Blocks[0].TimeBlock)
	require.Equal(1, batch.Blocks[0].NRecords)
	require.Equal(uint64(1), batch.Blocks[1].TimeBlock)
	require.Equal(2, batch.Blocks[1].NRecords)
	require.Equal(uint64(2), batch.Blocks[2].TimeBlock)
	require.Equal(1, batch.Blocks[2].NRecords)
}

func TestSchemaTimeOf(t *testing.T) {
	sc := buildTestSchema(t)
	rec := makeRecord(sc, 999, 1)
	require.Equal(t, uint64(999), sc.TimeOf(rec))
}
