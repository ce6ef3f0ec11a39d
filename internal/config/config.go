// Package config is the Configuration Loader (C8): it resolves the
// immutable set of values an ingestion or refinement run needs from
// flags, environment variables, and an optional config file, with flags
// taking precedence over environment, which takes precedence over file
// defaults — the same layering the teacher's cli package gets from
// spf13/viper, fronted here by a small typed accessor layer in the style
// of the teacher's config.EnvConfig.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// Credential env var names. The API key is also accepted via --api-key;
// the environment variable keeps it out of shell history and process
// listings.
const (
	EnvAPIKey = "WX_EDR_API_KEY"
)

// Defaults mirror spec §4.5 and §6.
const (
	DefaultConcurrency    = 10
	DefaultRetryAttempts  = 5
	DefaultRequestTimeout = 60 * time.Second
	DefaultBaseBackoff    = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultRateLimitHz    = 5.0
)

// Config is the immutable, fully-resolved configuration for one process
// invocation. It is built once by Load and passed by value/pointer to
// every component; nothing in the pipeline reads viper or the
// environment directly after Load returns.
type Config struct {
	// EDR endpoint
	BaseURL    string
	Collection string
	APIKey     string

	// storage roots: local filesystem paths or s3:// URIs
	RawRoot      string
	RefinedRoot  string
	MetadataRoot string

	// concurrency and retry
	Concurrency    int
	RetryAttempts  int
	RequestTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RateLimitHz    float64
	MaxRetrySleep  time.Duration // 0 means unbounded, per SPEC_FULL §12

	// station selection
	StationsFile string
	Selector     string
	StartYear    int
	EndYear      int

	// behavior flags
	Force     bool
	DryRun    bool
	Verbose   bool
	LogFormat string // "text" or "json"
}

// Load resolves a Config from v, which the caller has already bound to
// cobra flags, WX_-prefixed environment variables, and an optional
// config file. Returns a *errs.ConfigurationError if a required value is
// absent or invalid.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL:        v.GetString("base-url"),
		Collection:     v.GetString("collection"),
		APIKey:         v.GetString("api-key"),
		RawRoot:        v.GetString("raw-root"),
		RefinedRoot:    v.GetString("refined-root"),
		MetadataRoot:   v.GetString("metadata-root"),
		Concurrency:    intOrDefault(v, "concurrency", DefaultConcurrency),
		RetryAttempts:  intOrDefault(v, "retry-attempts", DefaultRetryAttempts),
		RequestTimeout: durationOrDefault(v, "request-timeout", DefaultRequestTimeout),
		BaseBackoff:    durationOrDefault(v, "base-backoff", DefaultBaseBackoff),
		MaxBackoff:     durationOrDefault(v, "max-backoff", DefaultMaxBackoff),
		RateLimitHz:    floatOrDefault(v, "rate-limit-hz", DefaultRateLimitHz),
		MaxRetrySleep:  durationOrDefault(v, "max-retry-sleep", 0),
		StationsFile:   v.GetString("stations-file"),
		Selector:       v.GetString("stations"),
		StartYear:      v.GetInt("start-year"),
		EndYear:        v.GetInt("end-year"),
		Force:          v.GetBool("force"),
		DryRun:         v.GetBool("dry-run"),
		Verbose:        v.GetBool("verbose"),
		LogFormat:      v.GetString("log-format"),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &errs.ConfigurationError{Msg: fmt.Sprintf("missing credential: set %s or --api-key", EnvAPIKey)}
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return &errs.ConfigurationError{Msg: "missing --base-url"}
	}
	if strings.TrimSpace(c.RawRoot) == "" {
		return &errs.ConfigurationError{Msg: "missing --raw-root"}
	}
	if strings.TrimSpace(c.StationsFile) == "" {
		return &errs.ConfigurationError{Msg: "missing --stations-file"}
	}
	if c.Concurrency <= 0 {
		return &errs.ConfigurationError{Msg: "concurrency must be positive"}
	}
	if c.StartYear != 0 && c.EndYear != 0 && c.StartYear > c.EndYear {
		return &errs.ConfigurationError{Msg: "start-year must not be after end-year"}
	}
	return nil
}

func intOrDefault(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) || v.GetInt(key) == 0 {
		return def
	}
	return v.GetInt(key)
}

func floatOrDefault(v *viper.Viper, key string, def float64) float64 {
	if !v.IsSet(key) || v.GetFloat64(key) == 0 {
		return def
	}
	return v.GetFloat64(key)
}

func durationOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) || v.GetDuration(key) == 0 {
		return def
	}
	return v.GetDuration(key)
}

// MaskSecret renders secret for logging: first four and last four
// characters survive and the middle is replaced with "..."; secrets of
// eight characters or fewer render as "***". Same convention as the
// teacher's common.MaskSecret.
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return "<not set>"
	case len(secret) <= 8:
		return "***"
	default:
		return secret[:4] + "..." + secret[len(secret)-4:]
	}
}
