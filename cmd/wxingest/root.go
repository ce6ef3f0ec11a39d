// Command wxingest is the command-line interface for the historical
// weather-observation ingestion and refinement engine. This package wires
// together configuration loading, storage backend selection, and the
// three subcommands that drive the pipeline: fetching raw observations,
// refining them into columnar partitions, and inspecting the station
// registry.
//
// Architecture Overview:
//
//	CLI flags/env/file → Config → Store(s) → Registry
//	↓
//	Retriever → Station Pipeline → Orchestrator (ingest)
//	Refiner → Orchestrator-less per-pair loop (refine)
//
// Configuration File Search Order (when --config is empty):
//  1. $HOME/.wxingest.yaml
//  2. ./.wxingest.yaml
//
// Supported Format: YAML.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags
//  2. WX_-prefixed environment variables (WX_EDR_API_KEY for the credential)
//  3. Configuration file values
//  4. Compiled-in defaults
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weatherarchive/edr-ingest/internal/config"
)

// cfgFile holds the path to the configuration file given via --config.
// When empty, initViper searches the default locations documented on the
// package comment above instead of requiring an explicit path.
var cfgFile string

// Exit codes per spec §6: 0 on full success, a distinct non-zero per
// failure class so scripts can branch on *why* a run failed.
const (
	ExitOK              = 0
	ExitChunkFailures   = 1
	ExitPreflightFailed = 2
	ExitConfigError     = 3
)

// newRootCmd builds the wxingest root command: the persistent flags
// shared by every subcommand (endpoint, storage roots, concurrency and
// retry tuning, logging), each bound to the shared viper instance so
// flag, environment, and config-file values all resolve through
// internal/config.Load uniformly regardless of which subcommand runs.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "wxingest",
		Short:         "Historical weather-observation ingestion and refinement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.wxingest.yaml)")
	root.PersistentFlags().String("base-url", "", "EDR endpoint base URL")
	root.PersistentFlags().String("collection", "observations", "EDR collection name")
	root.PersistentFlags().String("api-key", "", "API credential (prefer "+config.EnvAPIKey+")")
	root.PersistentFlags().String("raw-root", "", "raw artifact storage root (local path or s3://bucket/prefix)")
	root.PersistentFlags().String("refined-root", "", "refined partition storage root")
	root.PersistentFlags().String("metadata-root", "", "ledger and registry storage root")
	root.PersistentFlags().String("stations-file", "stations.json", "station registry path, relative to metadata-root")
	root.PersistentFlags().Int("concurrency", config.DefaultConcurrency, "bounded worker pool size")
	root.PersistentFlags().Int("retry-attempts", config.DefaultRetryAttempts, "max attempts per chunk")
	root.PersistentFlags().Duration("request-timeout", config.DefaultRequestTimeout, "per-attempt HTTP timeout")
	root.PersistentFlags().Duration("max-retry-sleep", 0, "cap cumulative backoff sleep per chunk (0 = unbounded)")
	root.PersistentFlags().Bool("verbose", false, "accepted for compatibility; the human sink logs every event whether or not it is set")
	root.PersistentFlags().String("log-format", "text", "human sink format: text or json")

	cobra.OnInitialize(func() {
		initViper(v, cfgFile)
	})

	for _, name := range []string{
		"base-url", "collection", "api-key", "raw-root", "refined-root",
		"metadata-root", "stations-file", "concurrency", "retry-attempts",
		"request-timeout", "max-retry-sleep", "verbose", "log-format",
	} {
		v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(newIngestCmd(v))
	root.AddCommand(newRefineCmd(v))
	root.AddCommand(newStationsCmd(v))

	return root
}

// initViper layers: flags (already bound) > WX_-prefixed environment >
// an optional config file > compiled-in defaults, the same precedence
// the teacher's cli package documents for its own viper setup.
func initViper(v *viper.Viper, cfgFile string) {
	v.SetEnvPrefix("WX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".wxingest")
		v.SetConfigType("yaml")
	}
	_ = v.ReadInConfig()

	// The credential is conventionally supplied via WX_EDR_API_KEY
	// rather than --api-key, per spec §6's single-environment-variable
	// credential contract; fall back to it explicitly since the flag
	// binding above only sees WX_API_KEY.
	if v.GetString("api-key") == "" {
		if key := os.Getenv(config.EnvAPIKey); key != "" {
			v.Set("api-key", key)
		}
	}
}

func Execute() int {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	return classifyExit(err)
}
