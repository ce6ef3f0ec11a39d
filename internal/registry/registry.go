// Package registry loads and resolves the station registry: the fixed
// list of measurement sites a run operates over, plus named groups of
// station keys for convenient selection on the command line.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/model"
)

// stationEntry is the on-disk shape of one station in the registry file,
// keyed by mnemonic station key per spec §6.
type stationEntry struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// file is the on-disk shape of stations.json.
type file struct {
	Stations map[string]stationEntry `json:"stations"`
	Groups   map[string][]string     `json:"groups"`
}

// Registry is the loaded, queryable station registry.
type Registry struct {
	stations map[string]model.Station
	groups   map[string][]string
	order    []string
}

// Load reads and parses a station registry file from the local
// filesystem.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("reading stations file %s", path), Err: err}
	}
	return parse(path, raw)
}

// Parse builds a Registry from an already-read station registry
// document, for callers that source the bytes from a Store (e.g. an
// s3:// metadata root) rather than the local filesystem.
func Parse(sourceDescription string, raw []byte) (*Registry, error) {
	return parse(sourceDescription, raw)
}

func parse(path string, raw []byte) (*Registry, error) {
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("parsing stations file %s", path), Err: err}
	}
	if len(f.Stations) == 0 {
		return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("stations file %s defines no stations", path)}
	}

	r := &Registry{
		stations: make(map[string]model.Station, len(f.Stations)),
		groups:   f.Groups,
	}
	for key, e := range f.Stations {
		r.stations[key] = model.Station{
			Key:  key,
			ID:   e.ID,
			Name: e.Name,
			Lat:  e.Lat,
			Lon:  e.Lon,
		}
		r.order = append(r.order, key)
	}
	sort.Strings(r.order)
	return r, nil
}

// All returns every registered station, sorted by key.
func (r *Registry) All() []model.Station {
	out := make([]model.Station, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.stations[key])
	}
	return out
}

// Groups returns the registry's named station groups, keyed by group
// name. Iteration order over the returned map is unspecified; callers
// that print groups should sort the names themselves.
func (r *Registry) Groups() map[string][]string {
	return r.groups
}

// Resolve expands a selector into a concrete, deduplicated, sorted list
// of stations. The selector is a comma-separated list whose elements are
// each either a station key or a group name; an empty selector resolves
// to every registered station.
func (r *Registry) Resolve(selector string) ([]model.Station, error) {
	if strings.TrimSpace(selector) == "" {
		return r.All(), nil
	}

	seen := map[string]bool{}
	var keys []string
	for _, tok := range strings.Split(selector, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if group, ok := r.groups[tok]; ok {
			for _, k := range group {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
			continue
		}
		if _, ok := r.stations[tok]; ok {
			if !seen[tok] {
				seen[tok] = true
				keys = append(keys, tok)
			}
			continue
		}
		return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("unknown station key or group: %q", tok)}
	}

	sort.Strings(keys)
	out := make([]model.Station, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.stations[k])
	}
	return out, nil
}
