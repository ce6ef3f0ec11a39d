// Package station is the Station Pipeline (C4): for one station, it
// enumerates chunks over a requested year range, consults the ledger,
// and drives the HTTP Retriever, Atomic Store, and Progress Ledger for
// each chunk not already materialized. Chunk processing within a
// station is strictly serial, per spec §4.4/§5, so the ledger never
// needs in-file locking.
package station

import (
	"context"
	"time"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/ledger"
	"github.com/weatherarchive/edr-ingest/internal/model"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

// Fetcher is the subset of internal/retriever.Retriever the pipeline
// needs, narrowed to an interface so tests can substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, station model.Station, year int) ([]byte, error)
}

// Pipeline drives one station's chunks to completion.
type Pipeline struct {
	fetcher  Fetcher
	raw      atomicstore.Store
	metadata atomicstore.Store
	log      *xlog.Log
	runID    string
}

// New constructs a station Pipeline.
func New(fetcher Fetcher, raw, metadata atomicstore.Store, log *xlog.Log, runID string) *Pipeline {
	return &Pipeline{fetcher: fetcher, raw: raw, metadata: metadata, log: log, runID: runID}
}

// Run executes run(station, year_range, force) per spec §4.4.
func (p *Pipeline) Run(ctx context.Context, station model.Station, startYear, endYear int, force bool) (model.PerStationOutcome, error) {
	started := time.Now()
	outcome := model.PerStationOutcome{Station: station}

	l, err := ledger.LoadIngestionLedger(ctx, p.metadata, station.Key)
	if err != nil {
		return outcome, err
	}

	for year := startYear; year <= endYear; year++ {
		chunkStart := time.Now()

		if !force {
			if entry, ok := l.Entry(year); ok {
				exists, err := p.raw.Exists(ctx, entry.Path)
				if err == nil && exists {
					outcome.Skipped++
					outcome.Results = append(outcome.Results, model.ChunkResult{Year: year, Status: model.ChunkSkipped})
					p.emit(xlog.ChunkSkipped, station.Key, year, nil)
					continue
				}
			}
		}

		payload, err := p.fetcher.Fetch(ctx, station, year)
		if err != nil {
			outcome.Failed++
			kind := errKind(err)
			outcome.Results = append(outcome.Results, model.ChunkResult{
				Year: year, Status: model.ChunkFailed, ErrKind: kind, Duration: time.Since(chunkStart),
			})
			p.emit(xlog.ChunkFailed, station.Key, year, xlog.Fields{"error_kind": kind, "error": err.Error(), "level": "error"})
			continue
		}

		path := model.RawArtifactPath(station.ID, year)
		if err := p.raw.Put(ctx, path, payload); err != nil {
			outcome.Failed++
			outcome.Results = append(outcome.Results, model.ChunkResult{
				Year: year, Status: model.ChunkFailed, ErrKind: "IOError", Duration: time.Since(chunkStart),
			})
			p.emit(xlog.ChunkFailed, station.Key, year, xlog.Fields{"error_kind": "IOError", "error": err.Error(), "level": "error"})
			continue
		}

		loadedAt := time.Now().UTC()
		l.Record(year, path, int64(len(payload)), loadedAt)
		if err := l.Save(ctx, p.metadata); err != nil {
			outcome.Failed++
			outcome.Results = append(outcome.Results, model.ChunkResult{
				Year: year, Status: model.ChunkFailed, ErrKind: "IOError", Duration: time.Since(chunkStart),
			})
			p.emit(xlog.ChunkFailed, station.Key, year, xlog.Fields{"error_kind": "IOError", "error": err.Error(), "level": "error"})
			continue
		}

		duration := time.Since(chunkStart)
		outcome.Completed++
		outcome.Results = append(outcome.Results, model.ChunkResult{
			Year: year, Status: model.ChunkCompleted, Bytes: int64(len(payload)), Duration: duration,
		})
		p.emit(xlog.ChunkCompleted, station.Key, year, xlog.Fields{"bytes": len(payload), "duration": duration.String()})
	}

	outcome.Duration = time.Since(started)
	p.log.Emit(xlog.Event{
		Kind:       xlog.StationComplete,
		RunID:      p.runID,
		StationKey: station.Key,
		Fields: xlog.Fields{
			"completed": outcome.Completed,
			"skipped":   outcome.Skipped,
			"failed":    outcome.Failed,
			"duration":  outcome.Duration.String(),
		},
	})

	return outcome, nil
}

func (p *Pipeline) emit(kind xlog.Kind, stationKey string, year int, extra xlog.Fields) {
	if p.log == nil {
		return
	}
	p.log.Emit(xlog.Event{Kind: kind, RunID: p.runID, StationKey: stationKey, Year: year, Fields: extra})
}

func errKind(err error) string {
	switch err.(type) {
	case *errs.ClientError:
		return "ClientError"
	case *errs.Exhausted:
		return "Exhausted"
	case *errs.RateLimited:
		return "RateLimited"
	case *errs.TransientNetworkError:
		return "TransientNetworkError"
	default:
		return "Unknown"
	}
}
