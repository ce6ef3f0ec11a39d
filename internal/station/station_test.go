package station

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/ledger"
	"github.com/weatherarchive/edr-ingest/internal/model"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, station model.Station, year int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, year)
	f.mu.Unlock()
	if err, ok := f.fail[year]; ok {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"year":%d}`, year)), nil
}

func newTestPipeline(t *testing.T, fetcher Fetcher) (*Pipeline, atomicstore.Store, atomicstore.Store) {
	t.Helper()
	ctx := context.Background()
	raw, err := atomicstore.New(ctx, t.TempDir())
	require.NoError(t, err)
	metadata, err := atomicstore.New(ctx, t.TempDir())
	require.NoError(t, err)
	log := xlog.New()
	t.Cleanup(log.Close)
	return New(fetcher, raw, metadata, log, "run-1"), raw, metadata
}

func TestPipeline_FirstRunFetchesEveryYear(t *testing.T) {
	fetcher := &fakeFetcher{fail: map[int]error{}}
	p, _, _ := newTestPipeline(t, fetcher)

	outcome, err := p.Run(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2020, 2022, false)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Completed)
	assert.Equal(t, 0, outcome.Skipped)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, []int{2020, 2021, 2022}, fetcher.calls)
}

func TestPipeline_SecondRunSkipsWithoutNetworkCalls(t *testing.T) {
	fetcher := &fakeFetcher{fail: map[int]error{}}
	p, _, _ := newTestPipeline(t, fetcher)
	station := model.Station{Key: "hupsel", ID: "06283"}

	_, err := p.Run(context.Background(), station, 2020, 2021, false)
	require.NoError(t, err)

	fetcher.calls = nil
	outcome, err := p.Run(context.Background(), station, 2020, 2021, false)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Completed)
	assert.Equal(t, 2, outcome.Skipped)
	assert.Empty(t, fetcher.calls)
}

func TestPipeline_ForceRefetchesEvenWhenLedgerSaysLoaded(t *testing.T) {
	fetcher := &fakeFetcher{fail: map[int]error{}}
	p, _, _ := newTestPipeline(t, fetcher)
	station := model.Station{Key: "hupsel", ID: "06283"}

	_, err := p.Run(context.Background(), station, 2020, 2020, false)
	require.NoError(t, err)

	fetcher.calls = nil
	outcome, err := p.Run(context.Background(), station, 2020, 2020, true)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Completed)
	assert.Equal(t, []int{2020}, fetcher.calls)
}

func TestPipeline_FailedYearDoesNotAbortLaterYears(t *testing.T) {
	fetcher := &fakeFetcher{fail: map[int]error{2021: &errs.Exhausted{Attempts: 5}}}
	p, _, metadata := newTestPipeline(t, fetcher)
	station := model.Station{Key: "c", ID: "06999"}

	outcome, err := p.Run(context.Background(), station, 2020, 2022, false)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Completed)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, []int{2021}, outcome.FailedYears())

	l, err := ledger.LoadIngestionLedger(context.Background(), metadata, station.Key)
	require.NoError(t, err)
	assert.False(t, l.IsDone(2021))
	assert.True(t, l.IsDone(2020))
	assert.True(t, l.IsDone(2022))
}
