package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		RatePerSec:  1000,
		BackoffBase: time.Millisecond,
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("order_id,revenue\n1,10\n"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/crm.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "order_id,revenue\n1,10\n", string(data))
}

func TestDownload_RetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/retry")
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.Equal(t, "success", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDownload_RetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher()
	f.opts.MaxRetries = 2

	_, err := f.Download(context.Background(), srv.URL+"/fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
}

func TestDownload_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL+"/forbidden")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Download(ctx, srv.URL+"/data")
	require.Error(t, err)
}

func TestDownload_429SlowsHost(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	f.opts.RatePerSec = 100

	body, err := f.Download(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int32(3), attempts.Load())

	u, _ := url.Parse(srv.URL)
	// 100 -> 50 -> 25 -> 30
	assert.InDelta(t, 30.0, float64(f.limiters[u.Host].Limit()), 0.1)
}

func TestLimiterFor_PerHost(t *testing.T) {
	f := newTestFetcher()
	a := f.limiterFor("https://ads.example.com/export.json")
	b := f.limiterFor("https://ads.example.com/other.json")
	c := f.limiterFor("https://crm.example.com/orders.csv")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.InDelta(t, 1000.0, float64(a.Limit()), 0.001)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "campaign-warehouse/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.InDelta(t, 5.0, f.opts.RatePerSec, 0.001)
	assert.Equal(t, time.Second, f.opts.BackoffBase)
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)

	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestOpener_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facebook_export.csv")
	require.NoError(t, writeTestFile(path, "campaign_id,date\n"))

	rc, err := (&Opener{}).Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "campaign_id,date\n", string(data))
}

func TestOpener_MissingFile(t *testing.T) {
	_, err := (&Opener{}).Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: open")
}

func TestOpener_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"campaigns":[]}`))
	}))
	defer srv.Close()

	o := &Opener{HTTP: newTestFetcher()}
	rc, err := o.Open(context.Background(), srv.URL+"/google_ads_api.json")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.True(t, strings.HasPrefix(string(data), `{"campaigns"`))
}

func TestOpener_Errors(t *testing.T) {
	_, err := (&Opener{}).Open(context.Background(), "")
	assert.Error(t, err)

	_, err = (&Opener{}).Open(context.Background(), "https://example.com/x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no http client")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.csv"))
	assert.True(t, IsRemote("HTTP://example.com/a.csv"))
	assert.False(t, IsRemote("/data/crm_revenue.csv"))
	assert.False(t, IsRemote("crm_revenue.csv"))
}
