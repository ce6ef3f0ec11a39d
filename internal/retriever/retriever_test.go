package retriever

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/model"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Collection:     "observations",
		APIKey:         "token",
		MaxAttempts:    5,
		BaseBackoff:    10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		RequestTimeout: time.Second,
		RateLimitHz:    0, // unlimited for tests
	}
}

func TestFetch_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"domain":{"axes":{"t":{"values":[]}}}}`))
	}))
	defer srv.Close()

	r := New(testConfig(srv.URL), nil, "run-1")
	body, err := r.Fetch(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	require.NoError(t, err)
	assert.Contains(t, string(body), "domain")
}

func TestFetch_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(testConfig(srv.URL), nil, "run-1")
	_, err := r.Fetch(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	require.Error(t, err)
	var clientErr *errs.ClientError
	assert.ErrorAs(t, err, &clientErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_ServerErrorRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := New(testConfig(srv.URL), nil, "run-1")
	_, err := r.Fetch(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_ExhaustsAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 3
	r := New(cfg, nil, "run-1")
	_, err := r.Fetch(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_RetryAfterOverridesBackoff(t *testing.T) {
	var calls int32
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BaseBackoff = time.Millisecond // would be far shorter than Retry-After if not overridden
	r := New(cfg, nil, "run-1")
	_, err := r.Fetch(context.Background(), model.Station{Key: "hupsel", ID: "06283"}, 2024)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
