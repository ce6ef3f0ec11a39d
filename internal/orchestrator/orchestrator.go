// Package orchestrator is the Ingestion Orchestrator (C5): it runs a
// preflight probe, then fans out one Station Pipeline per station into
// a bounded worker pool, aggregates per-station outcomes, and emits the
// run-complete summary. The bounded pool is grounded on the teacher's
// worker.Pool (a fixed number of goroutines pulling from a shared work
// channel) rather than launching one goroutine per station unbounded.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/model"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

// Prober is the subset of internal/retriever.Retriever the preflight
// check needs.
type Prober interface {
	Probe(ctx context.Context, stationID string) error
}

// StationRunner runs one station's pipeline to completion, matching
// internal/station.Pipeline.Run's signature.
type StationRunner interface {
	Run(ctx context.Context, station model.Station, startYear, endYear int, force bool) (model.PerStationOutcome, error)
}

// Orchestrator runs the full ingestion fan-out.
type Orchestrator struct {
	prober      Prober
	runner      StationRunner
	log         *xlog.Log
	parallelism int
	runID       string
}

// New constructs an Orchestrator. runID is generated by the caller (see
// NewRunID) before constructing the Retriever and Station Pipeline it
// passes in, so every component involved in one run shares the same
// correlation id in its emitted events.
func New(runID string, prober Prober, runner StationRunner, log *xlog.Log, parallelism int) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 10
	}
	return &Orchestrator{
		prober:      prober,
		runner:      runner,
		log:         log,
		parallelism: parallelism,
		runID:       runID,
	}
}

// NewRunID generates a fresh run correlation id, in the style of the
// teacher's "wf-"+uuid[:8] convention in auth/auth.go and
// tracing/middleware.go.
func NewRunID() string {
	return "wx-" + uuid.NewString()[:8]
}

// Plan describes the chunks a dry run would fetch, per SPEC_FULL §12's
// supplemented --dry-run mode. It performs no network calls.
type Plan struct {
	Stations  []model.Station
	StartYear int
	EndYear   int
}

// TotalChunks reports how many (station, year) chunks this plan covers.
func (p Plan) TotalChunks() int {
	return len(p.Stations) * (p.EndYear - p.StartYear + 1)
}

// Ingest runs ingest(stations, year_range, parallelism, force) per spec
// §4.5. A non-nil error means preflight failed or no work could be
// started; a nil error with RunOutcome.TotalFailed() > 0 means the run
// completed with one or more per-chunk failures (exit code handling is
// the caller's responsibility, per spec §6).
func (o *Orchestrator) Ingest(ctx context.Context, stations []model.Station, startYear, endYear int, force bool) (model.RunOutcome, error) {
	runID := o.runID
	started := time.Now()

	if len(stations) == 0 {
		return model.RunOutcome{RunID: runID}, &errs.ConfigurationError{Msg: "no stations resolved for this run"}
	}

	if err := o.prober.Probe(ctx, stations[0].ID); err != nil {
		o.log.Emit(xlog.Event{Kind: xlog.PreflightFailed, RunID: runID, Fields: xlog.Fields{"error": err.Error(), "level": "error"}})
		return model.RunOutcome{RunID: runID}, &errs.PreflightError{Endpoint: stations[0].ID, Err: err}
	}
	o.log.Emit(xlog.Event{Kind: xlog.PreflightOK, RunID: runID})

	type job struct {
		station model.Station
	}
	type result struct {
		outcome model.PerStationOutcome
		err     error
	}

	jobs := make(chan job, len(stations))
	results := make(chan result, len(stations))

	var wg sync.WaitGroup
	workers := o.parallelism
	if workers > len(stations) {
		workers = len(stations)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcome, err := o.runner.Run(ctx, j.station, startYear, endYear, force)
				results <- result{outcome: outcome, err: err}
			}
		}()
	}
	for _, s := range stations {
		jobs <- job{station: s}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	run := model.RunOutcome{RunID: runID, StartedAt: started}
	for res := range results {
		if res.err != nil {
			o.log.Emit(xlog.Event{
				Kind:       xlog.StationComplete,
				RunID:      runID,
				StationKey: res.outcome.Station.Key,
				Fields:     xlog.Fields{"error": res.err.Error(), "level": "error"},
			})
			continue
		}
		run.Stations = append(run.Stations, res.outcome)
	}
	run.Duration = time.Since(started)

	sort.Slice(run.Stations, func(i, j int) bool {
		return run.Stations[i].Station.Key < run.Stations[j].Station.Key
	})

	o.log.Emit(xlog.Event{
		Kind:  xlog.RunComplete,
		RunID: runID,
		Fields: xlog.Fields{
			"stations":  len(run.Stations),
			"completed": run.TotalCompleted(),
			"skipped":   run.TotalSkipped(),
			"failed":    run.TotalFailed(),
			"duration":  run.Duration.String(),
		},
	})

	return run, nil
}

// SummaryTable renders the supplemented run-summary table (SPEC_FULL
// §12): one aligned line per station plus a totals line, meant for the
// human sink after a run completes.
func SummaryTable(run model.RunOutcome) string {
	out := fmt.Sprintf("run %s: %d station(s), %s elapsed\n", run.RunID, len(run.Stations), run.Duration.Round(time.Second))
	out += fmt.Sprintf("%-16s %10s %10s %10s %10s\n", "station", "completed", "skipped", "failed", "bytes")
	for _, s := range run.Stations {
		var bytes int64
		for _, r := range s.Results {
			bytes += r.Bytes
		}
		out += fmt.Sprintf("%-16s %10d %10d %10d %10s\n", s.Station.Key, s.Completed, s.Skipped, s.Failed, humanize.Bytes(uint64(bytes)))
		if len(s.FailedYears()) > 0 {
			out += fmt.Sprintf("  failed years: %v\n", s.FailedYears())
		}
	}
	out += fmt.Sprintf("total: %d completed, %d skipped, %d failed\n", run.TotalCompleted(), run.TotalSkipped(), run.TotalFailed())
	return out
}
