// Package ledger is the Progress Ledger (C3): the per-station record of
// which (station, year) ingestion chunks and which (station, year-month)
// refinement partitions have already completed, making both the
// ingestion run and the refinement pass idempotent and resumable.
//
// Ledgers are plain JSON documents written through internal/atomicstore,
// so a crash mid-write never leaves a reader with a half-updated ledger.
// Summaries are always recomputed from the entries on every mutation,
// never stored independently of them.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// IngestionPath returns the metadata-root-relative path of a station's
// ingestion ledger, per spec §6.
func IngestionPath(stationKey string) string {
	return fmt.Sprintf("ingestion/%s.json", stationKey)
}

// RefinementPath returns the metadata-root-relative path of a station's
// refinement ledger, per spec §6.
func RefinementPath(stationKey string) string {
	return fmt.Sprintf("refined/%s.json", stationKey)
}

// YearEntry is one materialized chunk's record in the ingestion ledger.
type YearEntry struct {
	LoadedAt  time.Time `json:"loaded_at"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
}

// IngestionSummary is a pure function of an ingestion ledger's entries,
// recomputed on every record and never stored independently.
type IngestionSummary struct {
	YearsLoaded    int       `json:"years_loaded"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	YearMin        int       `json:"year_min"`
	YearMax        int       `json:"year_max"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IngestionLedger tracks which years have already been fetched and
// stored for one station.
type IngestionLedger struct {
	StationKey string               `json:"station_key"`
	Years      map[string]YearEntry `json:"years"`
	Summary    IngestionSummary     `json:"summary"`
}

// legacyIngestionLedger is the bare list-of-years shape an older version
// of this ledger used. Load migrates it transparently on read; the next
// Save persists the current shape.
type legacyIngestionLedger []int

// NewIngestionLedger returns an empty ledger for stationKey.
func NewIngestionLedger(stationKey string) *IngestionLedger {
	return &IngestionLedger{StationKey: stationKey, Years: map[string]YearEntry{}}
}

// LoadIngestionLedger reads a station's ingestion ledger, migrating the
// legacy bare-year-list format if encountered. A ledger that has never
// been written returns a fresh empty ledger, not an error.
func LoadIngestionLedger(ctx context.Context, store atomicstore.Store, stationKey string) (*IngestionLedger, error) {
	path := IngestionPath(stationKey)
	exists, err := store.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewIngestionLedger(stationKey), nil
	}

	raw, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var l IngestionLedger
	if err := json.Unmarshal(raw, &l); err == nil && l.Years != nil {
		l.StationKey = stationKey
		return &l, nil
	}

	var legacy legacyIngestionLedger
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, &errs.MalformedPayload{Reason: fmt.Sprintf("ingestion ledger %s is neither current nor legacy shape", path), Err: err}
	}
	migrated := NewIngestionLedger(stationKey)
	for _, year := range legacy {
		migrated.Years[yearKey(year)] = YearEntry{LoadedAt: time.Time{}}
	}
	migrated.recomputeSummary()
	return migrated, nil
}

// Save persists the ledger atomically.
func (l *IngestionLedger) Save(ctx context.Context, store atomicstore.Store) error {
	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return &errs.IOError{Path: IngestionPath(l.StationKey), Op: "marshal", Err: err}
	}
	return store.Put(ctx, IngestionPath(l.StationKey), raw)
}

// IsDone reports whether year has already been ingested.
func (l *IngestionLedger) IsDone(year int) bool {
	_, ok := l.Years[yearKey(year)]
	return ok
}

// Entry returns the recorded entry for year, if any.
func (l *IngestionLedger) Entry(year int) (YearEntry, bool) {
	e, ok := l.Years[yearKey(year)]
	return e, ok
}

// Record adds or replaces year's entry and recomputes the summary. Per
// spec §4.3/§3, a year is never retroactively modified once successfully
// recorded by normal operation — this method is used only by the
// station pipeline's one writer for that year, or by --force re-runs.
func (l *IngestionLedger) Record(year int, path string, sizeBytes int64, loadedAt time.Time) {
	l.Years[yearKey(year)] = YearEntry{LoadedAt: loadedAt, Path: path, SizeBytes: sizeBytes}
	l.recomputeSummary()
}

func (l *IngestionLedger) recomputeSummary() {
	s := IngestionSummary{UpdatedAt: time.Now().UTC()}
	first := true
	for k, e := range l.Years {
		var year int
		fmt.Sscanf(k, "%d", &year)
		if first || year < s.YearMin {
			s.YearMin = year
		}
		if first || year > s.YearMax {
			s.YearMax = year
		}
		first = false
		s.TotalSizeBytes += e.SizeBytes
	}
	s.YearsLoaded = len(l.Years)
	l.Summary = s
}

// CompletedYears returns the sorted list of years recorded as done.
func (l *IngestionLedger) CompletedYears() []int {
	years := make([]int, 0, len(l.Years))
	for k := range l.Years {
		var year int
		fmt.Sscanf(k, "%d", &year)
		years = append(years, year)
	}
	sort.Ints(years)
	return years
}

func yearKey(year int) string { return fmt.Sprintf("%d", year) }

// MonthEntry is one materialized monthly partition's record in the
// refinement ledger.
type MonthEntry struct {
	RefinedAt time.Time `json:"refined_at"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	RowCount  int       `json:"row_count"`
}

// RefinementSummary is a pure function of a refinement ledger's entries.
type RefinementSummary struct {
	MonthsRefined int       `json:"months_refined"`
	YearMin       int       `json:"year_min"`
	YearMax       int       `json:"year_max"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RefinementLedger tracks which monthly partitions have already been
// written for one station, keyed by "YYYY-MM".
type RefinementLedger struct {
	StationKey string                `json:"station_key"`
	Months     map[string]MonthEntry `json:"months"`
	Summary    RefinementSummary     `json:"summary"`
}

// NewRefinementLedger returns an empty ledger for stationKey.
func NewRefinementLedger(stationKey string) *RefinementLedger {
	return &RefinementLedger{StationKey: stationKey, Months: map[string]MonthEntry{}}
}

// LoadRefinementLedger reads a station's refinement ledger, or returns a
// fresh empty ledger if none has been written yet.
func LoadRefinementLedger(ctx context.Context, store atomicstore.Store, stationKey string) (*RefinementLedger, error) {
	path := RefinementPath(stationKey)
	exists, err := store.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewRefinementLedger(stationKey), nil
	}
	raw, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var l RefinementLedger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, &errs.MalformedPayload{Reason: fmt.Sprintf("refinement ledger %s unparsable", path), Err: err}
	}
	if l.Months == nil {
		l.Months = map[string]MonthEntry{}
	}
	l.StationKey = stationKey
	return &l, nil
}

// Save persists the ledger atomically.
func (l *RefinementLedger) Save(ctx context.Context, store atomicstore.Store) error {
	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return &errs.IOError{Path: RefinementPath(l.StationKey), Op: "marshal", Err: err}
	}
	return store.Put(ctx, RefinementPath(l.StationKey), raw)
}

// MonthKey formats a year and month into the ledger's "YYYY-MM" key.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// IsMonthDone reports whether the given year-month partition is recorded
// as already written.
func (l *RefinementLedger) IsMonthDone(year, month int) bool {
	_, ok := l.Months[MonthKey(year, month)]
	return ok
}

// Record adds or replaces a monthly partition's entry and recomputes the
// summary.
func (l *RefinementLedger) Record(year, month int, path string, sizeBytes int64, rowCount int, refinedAt time.Time) {
	l.Months[MonthKey(year, month)] = MonthEntry{
		RefinedAt: refinedAt,
		Path:      path,
		SizeBytes: sizeBytes,
		RowCount:  rowCount,
	}
	l.recomputeSummary()
}

func (l *RefinementLedger) recomputeSummary() {
	s := RefinementSummary{UpdatedAt: time.Now().UTC()}
	first := true
	for k := range l.Months {
		var year, month int
		fmt.Sscanf(k, "%d-%d", &year, &month)
		if first || year < s.YearMin {
			s.YearMin = year
		}
		if first || year > s.YearMax {
			s.YearMax = year
		}
		first = false
	}
	s.MonthsRefined = len(l.Months)
	l.Summary = s
}

// YearComplete reports whether all twelve months of year are recorded as
// written — the invariant the refiner needs before it can mark a year's
// refinement fully done and skip it on a later run.
func (l *RefinementLedger) YearComplete(year int) bool {
	for m := 1; m <= 12; m++ {
		if !l.IsMonthDone(year, m) {
			return false
		}
	}
	return true
}
