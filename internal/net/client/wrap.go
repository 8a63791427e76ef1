package client

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/net/breakers"
	"github.com/sawpanic/hashsignal/internal/net/budget"
	"github.com/sawpanic/hashsignal/internal/net/ratelimit"
)

// WrapperConfig configures the HTTP transport wrapper
type WrapperConfig struct {
	Host         string // limiter key; empty uses the request host
	RateLimiter  *ratelimit.Limiter
	Breaker      *breakers.Breaker
	Budget       *budget.Window
	Clock        clockwork.Clock
	RecoverAfter int // successes before a throttled host speeds back up
}

// Wrapper wraps an HTTP RoundTripper with rate limiting, circuit breaking and
// a request window budget. Failures surface as the faults taxonomy: 429/403
// and budget exhaustion are anti-bot challenges, transport errors and 5xx
// responses are transient.
type Wrapper struct {
	config    WrapperConfig
	transport http.RoundTripper
	userAgent string

	mu        sync.Mutex
	successes int
}

// NewWrapper creates a new HTTP transport wrapper with all middleware
func NewWrapper(config WrapperConfig, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.RecoverAfter <= 0 {
		config.RecoverAfter = 10
	}
	return &Wrapper{
		config:    config,
		transport: transport,
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	}
}

// RoundTrip implements http.RoundTripper with the full middleware stack
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	// Check budget first (fail fast if exhausted)
	if w.config.Budget != nil {
		if err := w.config.Budget.Consume(); err != nil {
			var retry time.Duration
			if ex, ok := err.(*budget.ExhaustedError); ok {
				retry = ex.ResetAt.Sub(w.config.Clock.Now())
			}
			return nil, &faults.AntiBotChallengeError{Indicator: "request budget exhausted", RetryAfter: retry}
		}
	}

	host := w.host(req)
	if w.config.RateLimiter != nil {
		if err := w.config.RateLimiter.Wait(req.Context(), host); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	execute := func() (any, error) {
		resp, err := w.transport.RoundTrip(req)
		if err != nil {
			return nil, &faults.TransientNetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
			retry := retryAfter(resp.Header.Get("Retry-After"), w.config.Clock.Now())
			drain(resp)
			return nil, &faults.AntiBotChallengeError{Indicator: fmt.Sprintf("http %d", resp.StatusCode), RetryAfter: retry}
		case resp.StatusCode >= 500:
			drain(resp)
			return nil, &faults.TransientNetworkError{
				Op:  req.Method + " " + req.URL.Path,
				Err: fmt.Errorf("HTTP %d error", resp.StatusCode),
			}
		}
		return resp, nil
	}

	var (
		out any
		err error
	)
	if w.config.Breaker != nil {
		out, err = w.config.Breaker.Execute(execute)
		if breakers.IsRejection(err) {
			err = &faults.TransientNetworkError{Op: "circuit " + host, Err: err}
		}
	} else {
		out, err = execute()
	}
	w.observe(host, err)
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

// observe throttles the host on challenges and recovers after a streak of successes
func (w *Wrapper) observe(host string, err error) {
	if w.config.RateLimiter == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case faults.IsAntiBot(err):
		w.successes = 0
		rps := w.config.RateLimiter.Throttle(host)
		log.Debug().Str("host", host).Float64("rps", rps).
			Strs("throttled_hosts", w.config.RateLimiter.Throttled()).
			Msg("host throttled")
	case err == nil:
		w.successes++
		if w.successes >= w.config.RecoverAfter {
			w.successes = 0
			w.config.RateLimiter.Recover(host)
		}
	}
}

// host keys the limiter; the configured name wins over the request host
func (w *Wrapper) host(req *http.Request) string {
	if w.config.Host != "" {
		return w.config.Host
	}
	return req.URL.Host
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Zero means the host gave no usable hint.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
