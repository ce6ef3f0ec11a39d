package refine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/ledger"
	"github.com/weatherarchive/edr-ingest/internal/model"
)

func newStores(t *testing.T) (raw, refined, metadata atomicstore.Store) {
	t.Helper()
	ctx := context.Background()
	var err error
	raw, err = atomicstore.New(ctx, t.TempDir())
	require.NoError(t, err)
	refined, err = atomicstore.New(ctx, t.TempDir())
	require.NoError(t, err)
	metadata, err = atomicstore.New(ctx, t.TempDir())
	require.NoError(t, err)
	return
}

const coverageFixture = `{
  "type": "Coverage",
  "domain": {
    "axes": {
      "t": {"values": ["2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", "2024-06-15T12:00:00Z"]}
    }
  },
  "ranges": {
    "temperature": {"values": [5.1, 5.3, 18.2]},
    "precipitation": {"values": [0.0, -1, 0.2]}
  }
}`

func seedIngested(t *testing.T, raw, metadata atomicstore.Store, station model.Station, year int) {
	t.Helper()
	ctx := context.Background()
	path := model.RawArtifactPath(station.ID, year)
	require.NoError(t, raw.Put(ctx, path, []byte(coverageFixture)))

	l := ledger.NewIngestionLedger(station.Key)
	l.Record(year, path, int64(len(coverageFixture)), time.Now().UTC())
	require.NoError(t, l.Save(ctx, metadata))
}

func TestRefine_NotIngestedPrecondition(t *testing.T) {
	raw, refined, metadata := newStores(t)
	r := New(raw, refined, metadata, nil, "run-1")

	_, err := r.Refine(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	assert.ErrorIs(t, err, ErrNotIngested)
}

func TestRefine_WritesTwelveMonthsAndRecordsLedger(t *testing.T) {
	raw, refined, metadata := newStores(t)
	station := model.Station{Key: "hupsel", ID: "06283"}
	seedIngested(t, raw, metadata, station, 2024)

	r := New(raw, refined, metadata, nil, "run-1")
	outcome, err := r.Refine(context.Background(), station, 2024)
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Len(t, outcome.Months, 12)

	rl, err := ledger.LoadRefinementLedger(context.Background(), metadata, station.Key)
	require.NoError(t, err)
	assert.True(t, rl.YearComplete(2024))

	for m := 1; m <= 12; m++ {
		exists, err := refined.Exists(context.Background(), model.RefinedPartitionPath(station.ID, 2024, m, "parquet"))
		require.NoError(t, err)
		assert.True(t, exists, "month %d should have a partition file even if empty", m)
	}
}

func TestRefine_SecondRunSkipsCompletedYear(t *testing.T) {
	raw, refined, metadata := newStores(t)
	station := model.Station{Key: "hupsel", ID: "06283"}
	seedIngested(t, raw, metadata, station, 2024)

	r := New(raw, refined, metadata, nil, "run-1")
	_, err := r.Refine(context.Background(), station, 2024)
	require.NoError(t, err)

	outcome, err := r.Refine(context.Background(), station, 2024)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
}

func TestRefine_RegeneratesMonthWhosePartitionFileWasDeleted(t *testing.T) {
	raw, refined, metadata := newStores(t)
	station := model.Station{Key: "hupsel", ID: "06283"}
	seedIngested(t, raw, metadata, station, 2024)

	r := New(raw, refined, metadata, nil, "run-1")
	_, err := r.Refine(context.Background(), station, 2024)
	require.NoError(t, err)

	deletedPath := model.RefinedPartitionPath(station.ID, 2024, 6, "parquet")
	require.NoError(t, os.Remove(filepath.Join(refined.Root(), deletedPath)))

	outcome, err := r.Refine(context.Background(), station, 2024)
	require.NoError(t, err)
	assert.False(t, outcome.Skipped, "a missing partition file must not be skipped even though the ledger still marks the year complete")

	exists, err := refined.Exists(context.Background(), deletedPath)
	require.NoError(t, err)
	assert.True(t, exists, "the missing month's partition file should have been rewritten")

	var rewroteMonth6 bool
	for _, m := range outcome.Months {
		if m.Month == 6 {
			rewroteMonth6 = true
		}
	}
	assert.True(t, rewroteMonth6, "only the month with the missing file should need rewriting")
}

func TestFlatten_RowCountMatchesAxisLength(t *testing.T) {
	var doc coverageDoc
	require.NoError(t, json.Unmarshal([]byte(coverageFixture), &doc))

	rows, columns, err := flatten("06283", doc)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Contains(t, columns, "temperature")
	assert.Contains(t, columns, "precipitation")
	assert.Equal(t, int64(2024), rows[0]["year"])
	assert.Equal(t, int64(1), rows[0]["month"])
	assert.Equal(t, int64(6), rows[2]["month"])
}
