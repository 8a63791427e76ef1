package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/net/breakers"
	"github.com/sawpanic/hashsignal/internal/net/budget"
	"github.com/sawpanic/hashsignal/internal/net/ratelimit"
)

func get(t *testing.T, c *http.Client, url string) (*http.Response, error) {
	t.Helper()
	resp, err := c.Get(url)
	if err == nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestWrapper_MapsStatusToFaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/bare":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/dated":
			w.Header().Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusForbidden)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	c := &http.Client{Transport: NewWrapper(WrapperConfig{Host: "test"}, nil)}

	resp, err := get(t, c, srv.URL+"/fine")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = get(t, c, srv.URL+"/limited")
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.Equal(t, 7*time.Second, faults.RetryAfter(err))

	_, err = get(t, c, srv.URL+"/bare")
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.Zero(t, faults.RetryAfter(err), "no header means no hint")

	_, err = get(t, c, srv.URL+"/dated")
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.InDelta(t, float64(time.Hour), float64(faults.RetryAfter(err)), float64(5*time.Second))

	_, err = get(t, c, srv.URL+"/broken")
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
}

func TestWrapper_BudgetExhaustionIsChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	window := budget.NewWindow("test", 1, 15*time.Minute, clock)
	c := &http.Client{Transport: NewWrapper(WrapperConfig{Host: "test", Budget: window, Clock: clock}, nil)}

	_, err := get(t, c, srv.URL)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = get(t, c, srv.URL)
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.Equal(t, 10*time.Minute, faults.RetryAfter(err))
}

func TestWrapper_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	br := breakers.New("test", breakers.DefaultConfig(), nil)
	c := &http.Client{Transport: NewWrapper(WrapperConfig{Host: "test", Breaker: br}, nil)}

	for i := 0; i < 3; i++ {
		_, err := get(t, c, srv.URL)
		require.Error(t, err)
	}
	assert.True(t, br.Open())

	_, err := get(t, c, srv.URL)
	require.Error(t, err)
	var transient *faults.TransientNetworkError
	require.True(t, errors.As(err, &transient))
	assert.Contains(t, transient.Op, "circuit")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "open breaker short-circuits")
}

func TestWrapper_ThrottlesOnChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := ratelimit.NewLimiter(100, 10)
	c := &http.Client{Transport: NewWrapper(WrapperConfig{Host: "test", RateLimiter: limiter}, nil)}
	_, err := get(t, c, srv.URL)
	require.Error(t, err)
	assert.InDelta(t, 50.0, limiter.Rate("test"), 1e-9)
	assert.Equal(t, []string{"test"}, limiter.Throttled())
}
