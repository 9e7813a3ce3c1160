package httpsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/resourcewatch/errors"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.AllowPrivate = true
	cfg.Timeout = 2 * time.Second
	cfg.RequestsPerSecond = 0
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxElapsed = time.Second
	return cfg
}

func newTestSource(t *testing.T, cfg Config) *Source {
	t.Helper()
	s, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return s
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tenants/acme/resources", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resources":[
			{"id":"a","modified":"2024-03-01T12:00:00Z","metadata":{"kind":"csv"}},
			{"id":"b","modified":"2024-03-01T13:00:00+01:00"}
		]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/api/")
	cfg.Token = "secret"
	descs, err := newTestSource(t, cfg).List(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "a", descs[0].ResourceID)
	assert.Equal(t, "csv", descs[0].Metadata["kind"])
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), descs[1].Modified)
}

func TestListRejectsMalformedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resources":[{"modified":"2024-03-01T12:00:00Z"}]}`))
	}))
	defer srv.Close()

	_, err := newTestSource(t, testConfig(srv.URL)).List(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))
}

func TestFetchChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tenants/acme/resources/tagged":
			w.Header().Set("ETag", `"v42"`)
		case "/tenants/acme/resources/weak":
			w.Header().Set("ETag", `W/"v1"`)
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()
	s := newTestSource(t, testConfig(srv.URL))

	p, err := s.Fetch(context.Background(), "acme", "tagged")
	require.NoError(t, err)
	assert.Equal(t, "v42", p.Checksum)
	assert.Equal(t, []byte("hello"), p.Data)

	p, err = s.Fetch(context.Background(), "acme", "weak")
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", p.Checksum)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := newTestSource(t, testConfig(srv.URL)).Fetch(context.Background(), "acme", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), p.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestSource(t, testConfig(srv.URL)).Fetch(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFetchFailed))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchGivesUpAfterMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryMaxElapsed = 50 * time.Millisecond
	_, err := newTestSource(t, cfg).Fetch(context.Background(), "acme", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryMaxElapsed = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestSource(t, cfg).Fetch(ctx, "acme", "a")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://127.0.0.1:9"}, nil)
	assert.Error(t, err, "private destinations need AllowPrivate")
}

func TestRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestsPerSecond = 20
	cfg.Burst = 1
	s := newTestSource(t, cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.Fetch(context.Background(), "acme", "a")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
