package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_EmptyTableStillProducesValidFile(t *testing.T) {
	table := Table{Columns: []string{"timestamp", "station_id", "temperature"}}
	out, err := Encode(table)
	require.NoError(t, err)
	assert.NotEmpty(t, out, "an empty-row table should still serialize to a valid parquet file carrying the schema")
}

func TestEncode_MixedRowsWithMissingColumns(t *testing.T) {
	table := Table{
		Columns: []string{"timestamp", "station_id", "temperature", "precipitation"},
		Rows: []Row{
			{"timestamp": "2024-01-01T00:00:00Z", "station_id": "06283", "temperature": 5.1, "precipitation": 0.0},
			{"timestamp": "2024-01-01T01:00:00Z", "station_id": "06283", "temperature": 5.3},
		},
	}
	out, err := Encode(table)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestInferType_DefaultsToStringWhenAllValuesNil(t *testing.T) {
	rows := []Row{{"x": nil}, {"x": nil}}
	typ := inferType(rows, "x")
	assert.Equal(t, "utf8", typ.Name())
}

func TestInferType_PicksFirstNonNilValueType(t *testing.T) {
	rows := []Row{{"x": nil}, {"x": int64(42)}}
	typ := inferType(rows, "x")
	assert.Equal(t, "int64", typ.Name())
}
