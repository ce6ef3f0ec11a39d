// Package refine is the Refiner (C6): it reads a raw artifact, flattens
// its nested coverage-document payload into row form, partitions the
// rows by calendar month, and writes exactly twelve monthly columnar
// partitions per (station, year), tracking completion in its own
// ledger. Grounded on spec §4.6; the columnar encoding itself lives in
// internal/columnar.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/columnar"
	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/ledger"
	"github.com/weatherarchive/edr-ingest/internal/model"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

// ErrNotIngested is returned when the ingestion ledger has no entry for
// the requested (station, year): a precondition violation per spec §4.6
// step 1, not a retryable error.
var ErrNotIngested = errors.New("refine: station/year has not been ingested")

// coverageDoc is the minimal shape the Refiner depends on: a time axis
// under domain.axes.t and a ranges map of parameter name to a
// positionally-aligned value array, per spec §6 and §9. Additional
// sibling keys in the document are tolerated and ignored.
type coverageDoc struct {
	Domain struct {
		Axes struct {
			T struct {
				Values []string `json:"values"`
			} `json:"t"`
		} `json:"axes"`
	} `json:"domain"`
	Ranges map[string]struct {
		Values []json.RawMessage `json:"values"`
	} `json:"ranges"`
}

// Refiner executes refine(station, year) for one (station, year) pair.
type Refiner struct {
	raw      atomicstore.Store
	refined  atomicstore.Store
	metadata atomicstore.Store
	log      *xlog.Log
	runID    string
}

// New constructs a Refiner against the three storage roots it needs:
// raw artifacts, refined partitions, and the metadata root holding both
// ledgers.
func New(raw, refined, metadata atomicstore.Store, log *xlog.Log, runID string) *Refiner {
	return &Refiner{raw: raw, refined: refined, metadata: metadata, log: log, runID: runID}
}

// Refine performs spec §4.6's algorithm for one (station, year).
func (r *Refiner) Refine(ctx context.Context, station model.Station, year int) (model.RefineOutcome, error) {
	outcome := model.RefineOutcome{Station: station, Year: year}

	ingestionLedger, err := ledger.LoadIngestionLedger(ctx, r.metadata, station.Key)
	if err != nil {
		return outcome, err
	}
	entry, ok := ingestionLedger.Entry(year)
	if !ok {
		return outcome, ErrNotIngested
	}

	refinementLedger, err := ledger.LoadRefinementLedger(ctx, r.metadata, station.Key)
	if err != nil {
		return outcome, err
	}

	if refinementLedger.YearComplete(year) {
		complete, err := r.yearFilesPresent(ctx, station.ID, year)
		if err != nil {
			return outcome, err
		}
		if complete {
			outcome.Skipped = true
			return outcome, nil
		}
	}

	raw, err := r.raw.Get(ctx, entry.Path)
	if err != nil {
		return outcome, err
	}

	var doc coverageDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return outcome, &errs.MalformedPayload{Reason: "could not parse coverage document", Err: err}
	}
	if len(doc.Domain.Axes.T.Values) == 0 {
		return outcome, &errs.MalformedPayload{Reason: "coverage document has no time axis"}
	}

	rows, columns, err := flatten(station.ID, doc)
	if err != nil {
		return outcome, err
	}

	byMonth := make(map[int][]columnar.Row, 12)
	for m := 1; m <= 12; m++ {
		byMonth[m] = nil
	}
	for _, row := range rows {
		ts := row["timestamp"].(time.Time)
		if ts.Year() != year {
			// Defensive: the upstream is asked for one calendar year;
			// a row outside it is not materialized into this year's
			// partitions.
			continue
		}
		byMonth[int(ts.Month())] = append(byMonth[int(ts.Month())], row)
	}

	var failedMonths []int
	for m := 1; m <= 12; m++ {
		if refinementLedger.IsMonthDone(year, m) {
			exists, err := r.refined.Exists(ctx, model.RefinedPartitionPath(station.ID, year, m, columnar.Ext))
			if err == nil && exists {
				continue
			}
		}
		monthRows := byMonth[m]
		sort.SliceStable(monthRows, func(i, j int) bool {
			return monthRows[i]["timestamp"].(time.Time).Before(monthRows[j]["timestamp"].(time.Time))
		})

		table := columnar.Table{Columns: columns, Rows: monthRows}
		encoded, err := columnar.Encode(table)
		if err != nil {
			failedMonths = append(failedMonths, m)
			r.emitRefineFailed(station.Key, year, m, err)
			continue
		}

		path := model.RefinedPartitionPath(station.ID, year, m, columnar.Ext)
		if err := r.refined.Put(ctx, path, encoded); err != nil {
			failedMonths = append(failedMonths, m)
			r.emitRefineFailed(station.Key, year, m, err)
			continue
		}

		refinementLedger.Record(year, m, path, int64(len(encoded)), len(monthRows), time.Now().UTC())
		outcome.Months = append(outcome.Months, model.RefineMonthResult{Month: m, Written: true, RowCount: len(monthRows)})
		r.emitRefineMonth(station.Key, year, m, len(monthRows))
	}

	if err := refinementLedger.Save(ctx, r.metadata); err != nil {
		return outcome, err
	}

	if len(failedMonths) > 0 {
		outcome.FailedMonths = failedMonths
		outcome.PartialFailed = true
		return outcome, &errs.PartialRefine{Year: year, FailedMonths: failedMonths}
	}
	return outcome, nil
}

// yearFilesPresent reports whether all twelve monthly partition files for
// (stationID, year) still exist in r.refined. The refinement ledger alone
// is not sufficient evidence a year can be skipped: a deleted or
// corrupted partition file must still be regenerated on rerun, mirroring
// the ledger-plus-filesystem check internal/station.Pipeline.Run does for
// raw artifacts.
func (r *Refiner) yearFilesPresent(ctx context.Context, stationID string, year int) (bool, error) {
	for m := 1; m <= 12; m++ {
		exists, err := r.refined.Exists(ctx, model.RefinedPartitionPath(stationID, year, m, columnar.Ext))
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// flatten produces one row per timestamp on the coverage document's time
// axis, per spec §4.6 step 3: the row carries the timestamp, the station
// identifier, one column per upstream parameter (named exactly as the
// upstream names it, no coercion), and derived year/month columns used
// only for partitioning.
func flatten(stationID string, doc coverageDoc) ([]columnar.Row, []string, error) {
	n := len(doc.Domain.Axes.T.Values)

	paramNames := make([]string, 0, len(doc.Ranges))
	for name := range doc.Ranges {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	rows := make([]columnar.Row, 0, n)
	for i := 0; i < n; i++ {
		ts, err := time.Parse(time.RFC3339, doc.Domain.Axes.T.Values[i])
		if err != nil {
			return nil, nil, &errs.MalformedPayload{Reason: fmt.Sprintf("unparsable timestamp at index %d", i), Err: err}
		}
		row := columnar.Row{
			"timestamp":  ts,
			"station_id": stationID,
			"year":       int64(ts.Year()),
			"month":      int64(ts.Month()),
		}
		for _, name := range paramNames {
			vals := doc.Ranges[name].Values
			if i >= len(vals) {
				row[name] = nil
				continue
			}
			var v interface{}
			if err := json.Unmarshal(vals[i], &v); err != nil {
				row[name] = nil
				continue
			}
			row[name] = v
		}
		rows = append(rows, row)
	}

	columns := append([]string{"timestamp", "station_id", "year", "month"}, paramNames...)
	return rows, columns, nil
}

func (r *Refiner) emitRefineMonth(stationKey string, year, month, rowCount int) {
	if r.log == nil {
		return
	}
	r.log.Emit(xlog.Event{
		Kind:       xlog.RefineMonth,
		RunID:      r.runID,
		StationKey: stationKey,
		Year:       year,
		Fields:     xlog.Fields{"month": month, "row_count": rowCount},
	})
}

func (r *Refiner) emitRefineFailed(stationKey string, year, month int, err error) {
	if r.log == nil {
		return
	}
	r.log.Emit(xlog.Event{
		Kind:       xlog.RefineFailed,
		RunID:      r.runID,
		StationKey: stationKey,
		Year:       year,
		Fields:     xlog.Fields{"month": month, "error": err.Error(), "level": "error"},
	})
}
