package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/weatherarchive/edr-ingest/internal/atomicstore"
	"github.com/weatherarchive/edr-ingest/internal/config"
	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/registry"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

// app bundles the resolved configuration and storage handles shared by
// every subcommand, built once per invocation by setupApp.
type app struct {
	cfg      *config.Config
	raw      atomicstore.Store
	refined  atomicstore.Store
	metadata atomicstore.Store
	registry *registry.Registry
	log      *xlog.Log
}

func setupApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	raw, err := atomicstore.New(ctx, cfg.RawRoot)
	if err != nil {
		return nil, err
	}
	var refined atomicstore.Store
	if cfg.RefinedRoot != "" {
		refined, err = atomicstore.New(ctx, cfg.RefinedRoot)
		if err != nil {
			return nil, err
		}
	}
	metadataRoot := cfg.MetadataRoot
	if metadataRoot == "" {
		metadataRoot = cfg.RawRoot
	}
	metadata, err := atomicstore.New(ctx, metadataRoot)
	if err != nil {
		return nil, err
	}

	stationsPath := cfg.StationsFile
	var reg *registry.Registry
	if raw, err := metadata.Get(ctx, stationsPath); err == nil {
		reg, err = registry.Parse(stationsPath, raw)
		if err != nil {
			return nil, err
		}
	} else {
		reg, err = registry.Load(stationsPath)
		if err != nil {
			return nil, &errs.ConfigurationError{Msg: fmt.Sprintf("loading station registry (tried metadata root and %s)", stationsPath), Err: err}
		}
	}

	logFile, logErr := os.OpenFile("wxingest-events.jsonl", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	var log *xlog.Log
	if logErr == nil {
		opts := []xlog.Option{xlog.WithMachineOutput(logFile)}
		if cfg.LogFormat == "json" {
			opts = append(opts, xlog.WithJSONHuman())
		}
		log = xlog.New(opts...)
	} else {
		log = xlog.New()
	}

	return &app{cfg: cfg, raw: raw, refined: refined, metadata: metadata, registry: reg, log: log}, nil
}

func (a *app) Close() {
	if a.log != nil {
		a.log.Close()
	}
}
