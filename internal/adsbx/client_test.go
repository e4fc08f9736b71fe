package adsbx

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsbx_history/internal/database"
)

var testDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func testConfig(url, cacheDir string) ClientConfig {
	return ClientConfig{
		TraceURL:    url,
		CacheDir:    cacheDir,
		RetryWait:   time.Millisecond,
		ErrorWait:   time.Millisecond,
		MaxAttempts: 6,
		Timeout:     5 * time.Second,
	}
}

func TestClient_TraceURL(t *testing.T) {
	c := NewClient(ClientConfig{TraceURL: "https://example.test/globe_history/"})
	assert.Equal(t,
		"https://example.test/globe_history/2024/05/01/traces/c3/trace_full_a1b2c3.json",
		c.TraceURL("A1B2C3", testDay))

	c = NewClient(ClientConfig{})
	assert.True(t, strings.HasPrefix(c.TraceURL("a1b2c3", testDay), DefaultTraceURL+"/2024/05/01/"))
}

func TestClient_CachePath(t *testing.T) {
	c := NewClient(ClientConfig{CacheDir: "/tmp/cache"})
	assert.Equal(t, filepath.Join("/tmp/cache", "a1b2c3", "2024-05-01", "trace_full.json"), c.CachePath("A1B2C3", testDay))

	assert.Empty(t, NewClient(ClientConfig{}).CachePath("a1b2c3", testDay))
}

func TestClient_FetchDay(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		expectedCalls int32
		expectedErr   error
	}{
		{"ok", []int{http.StatusOK}, 1, nil},
		{"not found", []int{http.StatusNotFound}, 1, ErrNotFound},
		{"rate limited then ok", []int{http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK}, 3, nil},
		{"server error then ok", []int{http.StatusInternalServerError, http.StatusOK}, 2, nil},
		{"gives up", []int{http.StatusBadGateway}, 6, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				assert.Equal(t, Referer, r.Header.Get("Referer"))
				assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
				assert.Equal(t, "/2024/05/01/traces/c3/trace_full_a1b2c3.json", r.URL.Path)

				status := tt.statuses[len(tt.statuses)-1]
				if int(n) <= len(tt.statuses) {
					status = tt.statuses[n-1]
				}
				w.WriteHeader(status)
				if status == http.StatusOK {
					w.Write([]byte(`{"icao":"a1b2c3","trace":[]}`))
				}
			}))
			defer srv.Close()

			c := NewClient(testConfig(srv.URL, ""))
			data, err := c.FetchDay(context.Background(), "a1b2c3", testDay)

			assert.Equal(t, tt.expectedCalls, atomic.LoadInt32(&calls))
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, `{"icao":"a1b2c3","trace":[]}`, string(data))
		})
	}
}

func TestClient_FetchDay_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url, "")
	cfg.MaxAttempts = 2
	_, err := NewClient(cfg).FetchDay(context.Background(), "a1b2c3", testDay)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_FetchDay_Cache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"trace":[[0,1,2]]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, t.TempDir()))

	first, err := c.FetchDay(context.Background(), "a1b2c3", testDay)
	require.NoError(t, err)
	second, err := c.FetchDay(context.Background(), "a1b2c3", testDay)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit avoids the network")

	cached, err := os.ReadFile(c.CachePath("a1b2c3", testDay))
	require.NoError(t, err)
	assert.Equal(t, first, cached)
}

func TestClient_FetchDay_NotFoundIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, t.TempDir()))
	_, err := c.FetchDay(context.Background(), "a1b2c3", testDay)
	assert.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(c.CachePath("a1b2c3", testDay))
	assert.True(t, os.IsNotExist(statErr))
}

func TestClient_FetchDay_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "")
	cfg.RetryWait = time.Hour
	c := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchDay(ctx, "a1b2c3", testDay)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Pacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "")
	cfg.Pacing = 50 * time.Millisecond
	c := NewClient(cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		c.FetchDay(context.Background(), "a1b2c3", testDay.AddDate(0, 0, i))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBundleFetcher_Populate(t *testing.T) {
	const ndjson = "{\"icao\":\"a1b2c3\"}\n{\"icao\":\"abcdef\"}\n"

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(gzipBytes(t, ndjson))
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := &BundleFetcher{URL: srv.URL, CacheDir: dir, BatchSize: 10}

	db, err := database.New(filepath.Join(dir, "aircraft.db"))
	require.NoError(t, err)
	defer db.Close()

	n, err := b.Populate(context.Background(), db.AircraftRepository())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := db.AircraftRepository().FindByHex(context.Background(), "abcdef")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", rec.Get("icao"))

	// the cached bundle is reused
	_, err = b.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBundleFetcher_PlainJSON(t *testing.T) {
	dir := t.TempDir()
	b := &BundleFetcher{URL: "http://127.0.0.1:0/unused", CacheDir: dir, BatchSize: 10}
	require.NoError(t, os.WriteFile(b.Path(), []byte(`[{"icao":"a1b2c3"}]`), 0o644))

	db, err := database.New(filepath.Join(dir, "aircraft.db"))
	require.NoError(t, err)
	defer db.Close()

	n, err := b.Populate(context.Background(), db.AircraftRepository())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBundleFetcher_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := &BundleFetcher{URL: srv.URL, CacheDir: t.TempDir()}
	_, err := b.Download(context.Background())
	assert.Error(t, err)

	_, statErr := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(statErr))
}
