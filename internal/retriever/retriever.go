// Package retriever is the HTTP Retriever (C1): it performs one EDR
// request for one (station, year) chunk, classifies the outcome, and
// applies the retry/backoff policy from spec §4.1. The retry loop itself
// is grounded on the teacher's http.Client.Execute (attempt counting,
// status-based retry decisions) but is rebuilt on
// github.com/cenkalti/backoff/v5, whose RetryAfterError lets a 429's
// Retry-After header override the computed backoff for exactly one gap,
// and golang.org/x/time/rate, which caps the rate at which requests are
// started below the upstream's advertised per-second budget.
package retriever

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/model"
	"github.com/weatherarchive/edr-ingest/internal/xlog"
)

// Config parameterizes the retry/backoff policy, per spec §4.1 and §4.8.
type Config struct {
	BaseURL        string
	Collection     string
	APIKey         string
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	RateLimitHz    float64
	MaxRetrySleep  time.Duration // 0 = unbounded, per SPEC_FULL §12
}

// Retriever performs EDR requests for (station, year) chunks.
type Retriever struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     *xlog.Log
	runID   string
}

// New constructs a Retriever. log and runID may be used for per-attempt
// event emission (chunk_attempt); both may be left zero-value by callers
// that emit attempt events themselves.
func New(cfg Config, log *xlog.Log, runID string) *Retriever {
	limit := rate.Limit(cfg.RateLimitHz)
	if cfg.RateLimitHz <= 0 {
		limit = rate.Inf
	}
	return &Retriever{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		runID:   runID,
	}
}

// Probe issues a minimal-range request against one station, used by the
// orchestrator's preflight check (spec §4.5 step 1). It does not consume
// the normal retry budget beyond a single attempt with no Retry-After
// handling, since a preflight failure is meant to fail fast.
func (r *Retriever) Probe(ctx context.Context, stationID string) error {
	url := fmt.Sprintf("%s/collections/%s/locations/%s?datetime=%s", r.cfg.BaseURL, r.cfg.Collection, stationID, probeWindow())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("preflight probe returned status %d", resp.StatusCode)
}

func probeWindow() string {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -1)
	return fmt.Sprintf("%s/%s", start.Format("2006-01-02T15:04:05Z"), now.Format("2006-01-02T15:04:05Z"))
}

// Fetch performs fetch(station_id, year) per spec §4.1: a GET over the
// full calendar year, with retry/backoff honoring Retry-After, 5xx and
// transport errors being retryable, and other 4xx being immediately
// fatal for this chunk.
func (r *Retriever) Fetch(ctx context.Context, station model.Station, year int) ([]byte, error) {
	start := fmt.Sprintf("%04d-01-01T00:00:00Z", year)
	end := fmt.Sprintf("%04d-12-31T23:59:59Z", year)
	url := fmt.Sprintf("%s/collections/%s/locations/%s?datetime=%s/%s", r.cfg.BaseURL, r.cfg.Collection, station.ID, start, end)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.3

	maxAttempts := r.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	attempt := 0
	var slept time.Duration

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			slept += d
		}),
	}

	result, err := backoff.Retry(ctx, func() (fetchResult, error) {
		attempt++
		if r.cfg.MaxRetrySleep > 0 && slept > r.cfg.MaxRetrySleep {
			return fetchResult{}, backoff.Permanent(&errs.Exhausted{Attempts: attempt, Err: fmt.Errorf("max-retry-sleep budget exceeded")})
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fetchResult{}, backoff.Permanent(err)
		}

		attemptStart := time.Now()
		body, status, retryAfter, err := r.attempt(ctx, url, year, station.Key)
		latency := time.Since(attemptStart)

		r.emitAttempt(station.Key, year, attempt, status, latency, len(body))

		if err != nil {
			return fetchResult{}, &errs.TransientNetworkError{Err: err}
		}

		switch {
		case status >= 200 && status < 300:
			return fetchResult{body: body}, nil
		case status == http.StatusTooManyRequests:
			if retryAfter > 0 {
				return fetchResult{}, &backoff.RetryAfterError{Duration: time.Duration(retryAfter) * time.Second}
			}
			return fetchResult{}, &errs.RateLimited{}
		case status >= 500:
			return fetchResult{}, &errs.TransientNetworkError{Err: fmt.Errorf("status %d", status)}
		default:
			return fetchResult{}, backoff.Permanent(&errs.ClientError{StatusCode: status, Body: string(body)})
		}
	}, opts...)

	if err != nil {
		var clientErr *errs.ClientError
		if ok := asClientError(err, &clientErr); ok {
			return nil, clientErr
		}
		return nil, &errs.Exhausted{Attempts: attempt, Err: err}
	}
	return result.body, nil
}

type fetchResult struct {
	body []byte
}

func (r *Retriever) attempt(ctx context.Context, url string, year int, stationKey string) (body []byte, status int, retryAfterSeconds int, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Authorization", r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, resp.StatusCode, 0, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfterSeconds = secs
			}
			// An HTTP-date Retry-After is intentionally not parsed: per
			// spec §9 Open Questions, only the integer-seconds form is
			// honored and anything else falls through to exponential
			// backoff.
		}
	}

	return buf.Bytes(), resp.StatusCode, retryAfterSeconds, nil
}

func (r *Retriever) emitAttempt(stationKey string, year, attempt, status int, latency time.Duration, bytesRead int) {
	if r.log == nil {
		return
	}
	r.log.Emit(xlog.Event{
		Kind:       xlog.ChunkAttempt,
		RunID:      r.runID,
		StationKey: stationKey,
		Year:       year,
		Fields: xlog.Fields{
			"attempt":  attempt,
			"status":   status,
			"latency":  latency.String(),
			"bytes":    bytesRead,
		},
	})
}

func asClientError(err error, target **errs.ClientError) bool {
	for err != nil {
		if ce, ok := err.(*errs.ClientError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
