package main

import (
	"errors"

	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// classifyExit maps an error returned from a subcommand to one of the
// distinct exit codes spec §6 requires: configuration errors and
// preflight failures are each distinguishable from an ordinary run that
// completed with one or more chunk failures.
func classifyExit(err error) int {
	var cfgErr *errs.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var preErr *errs.PreflightError
	if errors.As(err, &preErr) {
		return ExitPreflightFailed
	}
	return ExitChunkFailures
}
