package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confluo-db/confluo/types"
)

func buildTestSchema(t *testing.T) *Schema {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.AddColumn("value", types.Long, 0))
	require.NoError(t, b.AddColumn("name", types.String, 8))
	sc, err := b.Build()
	require.NoError(t, err)
	return sc
}

func TestBuilderAutoInjectsTimestamp(t *testing.T) {
	require := require.New(t)
	sc := buildTestSchema(t)
	require.Equal("TIMESTAMP", sc.Columns()[0].Name())
	require.Equal(types.ULong, sc.Columns()[0].Type)
	require.Equal(8+8+8, sc.RecordSize())
}

func TestBuilderRejectsTimestampColumnName(t *testing.T) {
	b := NewBuilder()
	err := b.AddColumn("timestamp", types.Long, 0)
	require.Error(t, err)
}

func TestBuilderRejectsDuplicateColumnNames(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddColumn("value", types.Long, 0))
	require.NoError(t, b.AddColumn("VALUE", types.Int, 0))
	_, err := b.Build()
	require.Error(t, err)
}

func TestColumnByNameCaseInsensitive(t *testing.T) {
	sc := buildTestSchema(t)
	col, err := sc.ColumnByName("value")
	require.NoError(t, err)
	require.Equal(t, 1, col.Idx)
}

func TestExtractWriteNumericRoundtrip(t *testing.T) {
	require := require.New(t)
	sc := buildTestSchema(t)
	rec := make([]byte, sc.RecordSize())
	col, err := sc.ColumnByName("value")
	require.NoError(err)
	col.WriteNumeric(rec, types.FromInt64(types.Long, -42))
	got := col.ExtractNumeric(rec)
	require.Equal(int64(-42), got.AsInt64())
}
